package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

const (
	defaultConfigPath = "bladerf-rx.json"
	envPrefix         = "BLADERF_RX_"
)

type cliConfig struct {
	device         string
	sampleRate     float64
	frequency      float64
	bandwidth      float64
	gain           string
	agc            bool
	metadata       bool
	maxFailures    int
	quantum        int
	limit          uint64
	output         string
	webAddr        string
	historyLimit   int
	reportInterval int
	spectrumSize   int
	announce       bool
	instance       string
	logLevel       string
	logFormat      string
}

type persistentConfig struct {
	Device         string  `json:"device"`
	SampleRate     float64 `json:"sample_rate"`
	Frequency      float64 `json:"frequency"`
	Bandwidth      float64 `json:"bandwidth"`
	Gain           string  `json:"gain"`
	AGC            bool    `json:"agc"`
	Metadata       bool    `json:"metadata"`
	MaxFailures    int     `json:"max_failures"`
	Quantum        int     `json:"quantum"`
	WebAddr        string  `json:"web_addr"`
	HistoryLimit   int     `json:"history_limit"`
	ReportInterval int     `json:"report_interval"`
	SpectrumSize   int     `json:"spectrum_size"`
	Announce       bool    `json:"announce"`
	Instance       string  `json:"instance"`
	LogLevel       string  `json:"log_level"`
	LogFormat      string  `json:"log_format"`
}

func defaultPersistentConfig() persistentConfig {
	return persistentConfig{
		Device:         "bladerf=sim",
		SampleRate:     2e6,
		Frequency:      915e6,
		Bandwidth:      0,
		Metadata:       false,
		MaxFailures:    3,
		Quantum:        4096,
		WebAddr:        ":8090",
		HistoryLimit:   500,
		ReportInterval: 64,
		SpectrumSize:   1024,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// parseConfig layers flags over BLADERF_RX_* environment values over the
// persisted defaults. A "-h" argument yields pflag.ErrHelp after usage has
// been written to out.
func parseConfig(args []string, lookup func(string) (string, bool), defaults persistentConfig, out io.Writer) (cliConfig, error) {
	cfg := cliConfig{}
	fs := pflag.NewFlagSet("bladerf-rx", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVarP(&cfg.device, "device", "d", envString(lookup, "DEVICE", defaults.Device), "Driver argument string (e.g. bladerf=0,sampling=internal)")
	fs.Float64VarP(&cfg.sampleRate, "sample-rate", "s", envFloat(lookup, "SAMPLE_RATE", defaults.SampleRate), "Sample rate in Hz")
	fs.Float64VarP(&cfg.frequency, "center-hz", "c", envFloat(lookup, "CENTER_HZ", defaults.Frequency), "Center frequency in Hz")
	fs.Float64Var(&cfg.bandwidth, "bandwidth", envFloat(lookup, "BANDWIDTH", defaults.Bandwidth), "Filter bandwidth in Hz (0 = 3/4 of the sample rate)")
	fs.StringVarP(&cfg.gain, "gain", "g", envString(lookup, "GAIN", defaults.Gain), "Overall RX gain in dB (empty leaves the board setting)")
	fs.BoolVar(&cfg.agc, "agc", envBool(lookup, "AGC", defaults.AGC), "Enable automatic gain control")
	fs.BoolVar(&cfg.metadata, "metadata", envBool(lookup, "METADATA", defaults.Metadata), "Stream with metadata and request immediate reception")
	fs.IntVar(&cfg.maxFailures, "max-failures", envInt(lookup, "MAX_FAILURES", defaults.MaxFailures), "Consecutive receive failures before the stream ends")
	fs.IntVarP(&cfg.quantum, "quantum", "q", envInt(lookup, "QUANTUM", defaults.Quantum), "Samples requested per work call")
	fs.Uint64VarP(&cfg.limit, "limit", "n", envUint(lookup, "LIMIT", 0), "Stop after this many samples (0 = unlimited)")
	fs.StringVarP(&cfg.output, "output", "o", envString(lookup, "OUTPUT", ""), "Write complex64 samples to this file (- for stdout)")
	fs.StringVar(&cfg.webAddr, "web-addr", envString(lookup, "WEB_ADDR", defaults.WebAddr), "Web telemetry listen address (empty logs telemetry instead)")
	fs.IntVar(&cfg.historyLimit, "history-limit", envInt(lookup, "HISTORY_LIMIT", defaults.HistoryLimit), "Maximum samples to keep in telemetry history")
	fs.IntVar(&cfg.reportInterval, "report-interval", envInt(lookup, "REPORT_INTERVAL", defaults.ReportInterval), "Work calls between telemetry reports")
	fs.IntVar(&cfg.spectrumSize, "spectrum-size", envInt(lookup, "SPECTRUM_SIZE", defaults.SpectrumSize), "FFT length for the spectrum snapshot")
	fs.BoolVar(&cfg.announce, "announce", envBool(lookup, "ANNOUNCE", defaults.Announce), "Announce the telemetry endpoint over mDNS")
	fs.StringVar(&cfg.instance, "instance", envString(lookup, "INSTANCE", defaults.Instance), "mDNS instance name")
	fs.StringVar(&cfg.logLevel, "log-level", envString(lookup, "LOG_LEVEL", defaults.LogLevel), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.logFormat, "log-format", envString(lookup, "LOG_FORMAT", defaults.LogFormat), "Log format (text|json)")

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	if fs.NArg() > 0 {
		return cliConfig{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if cfg.quantum <= 0 {
		return cliConfig{}, fmt.Errorf("quantum must be positive, got %d", cfg.quantum)
	}
	return cfg, nil
}

// deviceArgs folds the tuning flags into the driver argument string. Keys
// already present in the device string win.
func deviceArgs(cfg cliConfig) string {
	parts := []string{}
	if dev := strings.TrimSpace(cfg.device); dev != "" {
		parts = append(parts, dev)
	}
	present := func(key string) bool {
		for _, field := range strings.FieldsFunc(cfg.device, func(r rune) bool { return r == ',' || r == ' ' }) {
			k, _, _ := strings.Cut(field, "=")
			if strings.EqualFold(strings.TrimSpace(k), key) {
				return true
			}
		}
		return false
	}
	add := func(key, value string) {
		if !present(key) {
			parts = append(parts, key+"="+value)
		}
	}
	if cfg.sampleRate > 0 {
		add("samplerate", strconv.FormatFloat(cfg.sampleRate, 'f', -1, 64))
	}
	if cfg.frequency > 0 {
		add("freq", strconv.FormatFloat(cfg.frequency, 'f', -1, 64))
	}
	if cfg.bandwidth > 0 {
		add("bandwidth", strconv.FormatFloat(cfg.bandwidth, 'f', -1, 64))
	}
	if cfg.gain != "" {
		add("gain", cfg.gain)
	}
	if cfg.agc {
		add("agc", "1")
	}
	if cfg.metadata {
		add("metadata", "1")
	}
	if cfg.maxFailures > 0 {
		add("max_failures", strconv.Itoa(cfg.maxFailures))
	}
	return strings.Join(parts, ",")
}

func persistentFromCLI(cfg cliConfig) persistentConfig {
	return persistentConfig{
		Device:         cfg.device,
		SampleRate:     cfg.sampleRate,
		Frequency:      cfg.frequency,
		Bandwidth:      cfg.bandwidth,
		Gain:           cfg.gain,
		AGC:            cfg.agc,
		Metadata:       cfg.metadata,
		MaxFailures:    cfg.maxFailures,
		Quantum:        cfg.quantum,
		WebAddr:        cfg.webAddr,
		HistoryLimit:   cfg.historyLimit,
		ReportInterval: cfg.reportInterval,
		SpectrumSize:   cfg.spectrumSize,
		Announce:       cfg.announce,
		Instance:       cfg.instance,
		LogLevel:       cfg.logLevel,
		LogFormat:      cfg.logFormat,
	}
}

func loadOrCreateConfig(path string) (persistentConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultPersistentConfig()
			if saveErr := saveConfig(path, cfg); saveErr != nil {
				return persistentConfig{}, saveErr
			}
			return cfg, nil
		}
		return persistentConfig{}, err
	}
	defer f.Close()

	cfg := defaultPersistentConfig()
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return persistentConfig{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

func saveConfig(path string, cfg persistentConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func configPath(lookup func(string) (string, bool)) string {
	return envString(lookup, "CONFIG", defaultConfigPath)
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(envPrefix + key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(envPrefix + key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envUint(lookup func(string) (string, bool), key string, def uint64) uint64 {
	if val, ok := lookup(envPrefix + key); ok {
		if parsed, err := strconv.ParseUint(val, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(lookup func(string) (string, bool), key string, def bool) bool {
	if val, ok := lookup(envPrefix + key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(envPrefix + key); ok {
		return val
	}
	return def
}
