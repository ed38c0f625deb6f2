// Package source exposes a bladeRF receive channel as a streaming sample
// source. A host scheduler calls Work once per quantum; each call pulls
// SC16Q11 samples from the device and converts them to complex64.
package source

import (
	"errors"
	"fmt"
	"time"

	"github.com/UbhaSecurity/gr-osmosdr/internal/args"
	"github.com/UbhaSecurity/gr-osmosdr/internal/bladerf"
	"github.com/UbhaSecurity/gr-osmosdr/internal/logging"
)

// State is the session lifecycle: Created → Started → Stopped.
type State int

const (
	Created State = iota
	Started
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options carries collaborators and overrides that do not belong in the
// argument string.
type Options struct {
	Logger   logging.Logger
	Registry *bladerf.Registry
	// MaxConsecutiveFailures overrides the max_failures key when positive.
	MaxConsecutiveFailures int
	// MaxBufferItems overrides the max_buffer_items key when positive.
	MaxBufferItems int
}

// Source is one receive session on a bladeRF.
//
// Work, Start and Stop must not run concurrently with each other; the host
// scheduler serializes them. The configuration methods take the shared
// handle's control lock and may be called between quanta.
type Source struct {
	log    logging.Logger
	handle *bladerf.Handle
	dev    bladerf.Device
	rev    bladerf.BoardRevision
	ch     bladerf.Channel
	cfg    Config

	state   State
	enabled bool
	closed  bool

	conv     []int16
	meta     bladerf.Metadata
	failures int
	stats    Stats

	warnings []string
}

// New opens (or shares) the device named in the argument string and applies
// the construction-time settings. Configuration problems are logged as
// warnings and do not fail construction; failing to open the device does.
func New(argString string, opts Options) (*Source, error) {
	log := logging.For(opts.Logger, "source")

	d := args.Parse(argString)
	cfg, warnings := ParseConfig(d)
	if opts.MaxConsecutiveFailures > 0 {
		cfg.MaxConsecutiveFailures = opts.MaxConsecutiveFailures
	}
	if opts.MaxBufferItems > 0 {
		cfg.MaxBufferItems = opts.MaxBufferItems
	}

	reg := opts.Registry
	if reg == nil {
		reg = bladerf.DefaultRegistry
	}
	h, err := reg.Acquire(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}

	s := &Source{
		log:    log,
		handle: h,
		dev:    h.Stream(),
		rev:    h.Stream().BoardRevision(),
		ch:     bladerf.ChannelRX(0),
		cfg:    cfg,
	}
	for _, w := range warnings {
		s.warn(w)
	}
	s.log.Info("device opened",
		logging.F("serial", s.dev.Serial()),
		logging.F("board", s.rev),
		logging.F("metadata", cfg.Metadata),
		logging.F("max_failures", cfg.MaxConsecutiveFailures))

	if d.Has("sampling") {
		s.applySampling(cfg.Sampling)
	}
	s.checkFPGA()
	s.applyTuning()
	return s, nil
}

func (s *Source) warn(msg string, fields ...logging.Field) {
	s.warnings = append(s.warnings, msg)
	s.log.Warn(msg, fields...)
}

// Warnings returns the configuration warnings raised so far.
func (s *Source) Warnings() []string { return append([]string(nil), s.warnings...) }

func (s *Source) applySampling(mode string) {
	s.log.Info("setting sampling mode", logging.F("sampling", mode))
	sampling, err := bladerf.ParseSampling(mode)
	if err != nil {
		s.warn(fmt.Sprintf("invalid sampling mode %q", mode))
		return
	}
	err = s.handle.Control(func(d bladerf.Device) error { return d.SetSampling(sampling) })
	if err != nil {
		s.warn("problem while setting sampling mode", logging.F("error", bladerf.Strerror(bladerf.CodeOf(err))))
	}
}

func (s *Source) checkFPGA() {
	var v bladerf.Version
	err := s.handle.Control(func(d bladerf.Device) (err error) {
		v, err = d.FPGAVersion()
		return err
	})
	switch {
	case err != nil:
		s.warn("failed to get FPGA version", logging.Err(err))
	case v.Less(bladerf.MinFPGAVersion):
		s.warn(fmt.Sprintf("FPGA %s or later is required, %s will misinterpret samples",
			bladerf.MinFPGAVersion, v))
	default:
		s.log.Debug("FPGA version", logging.F("version", v))
	}
}

func (s *Source) applyTuning() {
	c := s.cfg
	try := func(what string, err error) {
		if err != nil {
			s.warn("initial "+what+" not applied", logging.Err(err))
		}
	}
	if c.ClockSource != "" {
		try("clock source", s.SetClockSource(c.ClockSource))
	}
	if c.SampleRate > 0 {
		_, err := s.SetSampleRate(c.SampleRate)
		try("sample rate", err)
	}
	if c.Frequency > 0 {
		_, err := s.SetCenterFreq(c.Frequency, 0)
		try("frequency", err)
	}
	if c.Bandwidth > 0 {
		_, err := s.SetBandwidth(c.Bandwidth, 0)
		try("bandwidth", err)
	}
	if c.HasAGC {
		_, err := s.SetGainMode(c.AGC, 0)
		try("gain mode", err)
	}
	if c.HasGain {
		_, err := s.SetGain(c.Gain, 0)
		try("gain", err)
	}
}

// Config returns the parsed session configuration.
func (s *Source) Config() Config { return s.cfg }

// State returns the lifecycle state.
func (s *Source) State() State { return s.state }

// Start arms the device stream. It is only valid once, from Created.
func (s *Source) Start() error {
	switch s.state {
	case Started:
		return nil
	case Stopped:
		return ErrStopped
	}
	format := bladerf.FormatSC16Q11
	if s.cfg.Metadata {
		format = bladerf.FormatSC16Q11Meta
	}
	err := s.handle.Control(func(d bladerf.Device) error {
		if err := d.SyncConfig(bladerf.RXX1, format, s.cfg.Stream); err != nil {
			return bladerf.Wrap("configure sync interface", err)
		}
		if err := d.EnableModule(s.ch, true); err != nil {
			return bladerf.Wrap("enable RX module", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.enabled = true
	s.state = Started
	s.log.Info("stream started",
		logging.F("format", format),
		logging.F("buffers", s.cfg.Stream.NumBuffers),
		logging.F("buflen", s.cfg.Stream.BufferSize),
		logging.F("transfers", s.cfg.Stream.NumTransfers),
		logging.Dur("timeout", s.cfg.Stream.Timeout))
	return nil
}

// Stop disarms the stream. Stopping an already stopped session (including
// one that ended itself after repeated failures) only disables the module
// if it is still enabled.
func (s *Source) Stop() error {
	s.state = Stopped
	if !s.enabled {
		return nil
	}
	s.enabled = false
	err := s.handle.Control(func(d bladerf.Device) error {
		return bladerf.Wrap("disable RX module", d.EnableModule(s.ch, false))
	})
	s.log.Info("stream stopped", logging.F("samples", s.stats.Samples), logging.F("failures", s.stats.Failures))
	return err
}

// Close stops the session and releases its reference on the device.
func (s *Source) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.Stop(), s.handle.Release())
}

// NumChannels reports the receive channels of the board.
func (s *Source) NumChannels() int { return bladerf.NumChannels(s.rev) }

// SampleRates returns the supported sample-rate ranges.
func (s *Source) SampleRates() []bladerf.Range {
	return []bladerf.Range{bladerf.SampleRateRange(s.rev)}
}

// Timeout is the bound on a single device pull.
func (s *Source) Timeout() time.Duration { return s.cfg.Stream.Timeout }
