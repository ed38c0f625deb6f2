package source

import (
	"time"

	"github.com/UbhaSecurity/gr-osmosdr/internal/args"
	"github.com/UbhaSecurity/gr-osmosdr/internal/bladerf"
)

const (
	DefaultMaxConsecutiveFailures = 3
	DefaultNumBuffers             = 512
	DefaultBufferSize             = 4096
	DefaultNumTransfers           = 32
	DefaultStreamTimeout          = 3000 * time.Millisecond
	// DefaultMaxBufferItems caps the conversion buffer at 64 MiB.
	DefaultMaxBufferItems = 1 << 24
)

// Config is the parsed form of a driver argument string.
type Config struct {
	Device   string
	Sampling string // raw value; empty leaves the board untouched
	Metadata bool
	Stream   bladerf.StreamConfig

	MaxConsecutiveFailures int
	MaxBufferItems         int

	// Initial tuning, applied at construction when set.
	SampleRate  float64
	Frequency   float64
	Bandwidth   float64
	Gain        float64
	HasGain     bool
	AGC         bool
	HasAGC      bool
	ClockSource string
}

// ParseConfig reads the keys a source understands. Unparsable values are
// reported as warnings and fall back to defaults.
func ParseConfig(d args.Dict) (Config, []string) {
	var warnings []string
	warn := func(err error) {
		if err != nil {
			warnings = append(warnings, err.Error())
		}
	}

	cfg := Config{
		Device:   d.String("bladerf", ""),
		Sampling: d.String("sampling", ""),
		Stream: bladerf.StreamConfig{
			NumBuffers:   DefaultNumBuffers,
			BufferSize:   DefaultBufferSize,
			NumTransfers: DefaultNumTransfers,
			Timeout:      DefaultStreamTimeout,
		},
		ClockSource: d.String("refclk", d.String("clock", "")),
	}

	var err error
	cfg.Metadata, err = d.Bool("metadata", false)
	warn(err)
	cfg.Stream.NumBuffers, err = d.Int("buffers", DefaultNumBuffers)
	warn(err)
	cfg.Stream.BufferSize, err = d.Int("buflen", DefaultBufferSize)
	warn(err)
	cfg.Stream.NumTransfers, err = d.Int("transfers", DefaultNumTransfers)
	warn(err)
	cfg.Stream.Timeout, err = d.Millis("stream_timeout", DefaultStreamTimeout)
	warn(err)
	cfg.MaxConsecutiveFailures, err = d.Int("max_failures", DefaultMaxConsecutiveFailures)
	warn(err)
	cfg.MaxBufferItems, err = d.Int("max_buffer_items", DefaultMaxBufferItems)
	warn(err)
	cfg.SampleRate, err = d.Float("samplerate", 0)
	warn(err)
	cfg.Frequency, err = d.Float("freq", 0)
	warn(err)
	cfg.Bandwidth, err = d.Float("bandwidth", 0)
	warn(err)
	if d.Has("gain") {
		cfg.Gain, err = d.Float("gain", 0)
		cfg.HasGain = err == nil
		warn(err)
	}
	if d.Has("agc") {
		cfg.AGC, err = d.Bool("agc", false)
		cfg.HasAGC = err == nil
		warn(err)
	}

	if cfg.Stream.BufferSize <= 0 || cfg.Stream.BufferSize%1024 != 0 {
		warnings = append(warnings, "buflen must be a positive multiple of 1024, using default")
		cfg.Stream.BufferSize = DefaultBufferSize
	}
	if cfg.Stream.NumBuffers < 2 {
		warnings = append(warnings, "buffers must be at least 2, using default")
		cfg.Stream.NumBuffers = DefaultNumBuffers
	}
	if cfg.Stream.NumTransfers < 1 {
		warnings = append(warnings, "transfers must be at least 1, using default")
		cfg.Stream.NumTransfers = DefaultNumTransfers
	}
	if cfg.Stream.NumTransfers >= cfg.Stream.NumBuffers {
		warnings = append(warnings, "transfers must be fewer than buffers, using buffers/2")
		cfg.Stream.NumTransfers = cfg.Stream.NumBuffers / 2
	}
	if cfg.MaxConsecutiveFailures < 1 {
		warnings = append(warnings, "max_failures must be at least 1, using default")
		cfg.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if cfg.MaxBufferItems < 1 {
		warnings = append(warnings, "max_buffer_items must be at least 1, using default")
		cfg.MaxBufferItems = DefaultMaxBufferItems
	}
	return cfg, warnings
}
