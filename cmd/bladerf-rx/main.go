package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/UbhaSecurity/gr-osmosdr/internal/announce"
	"github.com/UbhaSecurity/gr-osmosdr/internal/flowgraph"
	"github.com/UbhaSecurity/gr-osmosdr/internal/logging"
	"github.com/UbhaSecurity/gr-osmosdr/internal/source"
	"github.com/UbhaSecurity/gr-osmosdr/internal/telemetry"
)

func main() {
	if err := newRootCmd(os.LookupEnv).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(lookup func(string) (string, bool)) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "bladerf-rx",
		Short:         "Receive samples from a bladeRF and monitor the stream.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	streamCmd := &cobra.Command{
		Use:                "stream [flags]",
		Short:              "Run the receive flowgraph with live telemetry",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ok, err := loadCLI(cmd, args, lookup)
			if err != nil || !ok {
				return err
			}
			return runStream(cmd, cfg)
		},
	}
	rootCmd.AddCommand(streamCmd)

	infoCmd := &cobra.Command{
		Use:                "info [flags]",
		Short:              "Print board identity and capability ranges as JSON",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ok, err := loadCLI(cmd, args, lookup)
			if err != nil || !ok {
				return err
			}
			return runInfo(cmd, cfg)
		},
	}
	rootCmd.AddCommand(infoCmd)

	var browseTimeout time.Duration
	var asJSON bool
	peersCmd := &cobra.Command{
		Use:   "peers",
		Short: "Browse the local network for announced receivers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPeers(cmd, browseTimeout, asJSON)
		},
	}
	peersCmd.Flags().DurationVarP(&browseTimeout, "timeout", "t", 3*time.Second, "How long to browse")
	peersCmd.Flags().BoolVar(&asJSON, "json", false, "Print peers as JSON")
	rootCmd.AddCommand(peersCmd)

	return rootCmd
}

// loadCLI resolves the layered configuration and persists it. ok is false
// when only help was requested.
func loadCLI(cmd *cobra.Command, args []string, lookup func(string) (string, bool)) (cliConfig, bool, error) {
	path := configPath(lookup)
	persistent, err := loadOrCreateConfig(path)
	if err != nil {
		return cliConfig{}, false, fmt.Errorf("load config: %w", err)
	}
	cfg, err := parseConfig(args, lookup, persistent, cmd.ErrOrStderr())
	if errors.Is(err, pflag.ErrHelp) {
		return cliConfig{}, false, nil
	}
	if err != nil {
		return cliConfig{}, false, fmt.Errorf("parse config: %w", err)
	}
	if err := saveConfig(path, persistentFromCLI(cfg)); err != nil {
		return cliConfig{}, false, fmt.Errorf("save config: %w", err)
	}
	return cfg, true, nil
}

func newLogger(cfg cliConfig, out io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.logLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.logFormat)
	if err != nil {
		return nil, err
	}
	logger := logging.New(level, format, out)
	logging.SetDefault(logger)
	return logger, nil
}

func runStream(cmd *cobra.Command, cfg cliConfig) error {
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := source.New(deviceArgs(cfg), source.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer src.Close()

	hub := telemetry.NewHub(cfg.historyLimit, logger)
	if _, err := hub.UpdateConfig(telemetry.Config{
		ReportInterval: cfg.reportInterval,
		SpectrumSize:   cfg.spectrumSize,
	}); err != nil {
		return fmt.Errorf("telemetry config: %w", err)
	}

	rate, err := src.SampleRate()
	if err != nil {
		return err
	}
	center, err := src.CenterFreq(0)
	if err != nil {
		return err
	}

	reporters := telemetry.MultiReporter{hub}
	if cfg.webAddr != "" {
		web := telemetry.NewWebServer(cfg.webAddr, hub, logger)
		ln, port, err := web.Listen()
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.webAddr, err)
		}
		go web.Serve(ctx, ln)
		if cfg.announce {
			info, err := src.Info()
			if err != nil {
				return err
			}
			a, err := announce.Register(announce.Info{
				Instance:   cfg.instance,
				Port:       port,
				Serial:     info.Serial,
				Board:      info.Board,
				CenterHz:   center,
				SampleRate: rate,
			}, logger)
			if err != nil {
				logging.For(logger, "announce").Warn("mDNS announce failed", logging.Err(err))
			} else {
				defer a.Shutdown()
			}
		}
	} else {
		reporters = append(reporters, telemetry.NewStdoutReporter(logger))
	}

	out, closeOut, err := openOutput(cfg.output, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	mon := &monitor{
		src:        src,
		hub:        hub,
		reporter:   reporters,
		out:        out,
		centerHz:   center,
		sampleRate: rate,
	}

	runner, err := flowgraph.NewRunner(src, mon.consume, flowgraph.Config{
		Quanta: []int{cfg.quantum},
		Limit:  cfg.limit,
	}, logger)
	if err != nil {
		return errors.Join(err, closeOut())
	}
	logger.Info("starting stream (Ctrl+C to stop)",
		logging.F("device", deviceArgs(cfg)),
		logging.F("sample_rate", rate),
		logging.F("center_hz", center))

	res, runErr := runner.Run(ctx)
	mon.final()
	if err := closeOut(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("close output: %w", err))
	}
	logger.Info("stream finished",
		logging.F("reason", string(res.Reason)),
		logging.F("samples", res.Items),
		logging.F("failures", src.Stats().Failures))
	return runErr
}

// openOutput returns a buffered writer for path, nil when path is empty.
func openOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	switch path {
	case "":
		return nil, func() error { return nil }, nil
	case "-":
		w := bufio.NewWriter(stdout)
		return w, w.Flush, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open output: %w", err)
	}
	w := bufio.NewWriter(f)
	return w, func() error {
		return errors.Join(w.Flush(), f.Close())
	}, nil
}

func runInfo(cmd *cobra.Command, cfg cliConfig) error {
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	src, err := source.New(deviceArgs(cfg), source.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Info()
	if err != nil {
		return err
	}
	payload := struct {
		source.DeviceInfo
		Warnings []string `json:"warnings,omitempty"`
	}{info, src.Warnings()}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func runPeers(cmd *cobra.Command, timeout time.Duration, asJSON bool) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	peers, err := announce.Browse(ctx, timeout)
	if err != nil {
		return err
	}
	if asJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(peers)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE\tHOST\tPORT\tSERIAL\tFREQ")
	for _, p := range peers {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", p.Instance, p.Hostname, p.Port, p.TXT["serial"], p.TXT["freq"])
	}
	return tw.Flush()
}
