package source

import (
	"fmt"
	"math"

	"github.com/UbhaSecurity/gr-osmosdr/internal/bladerf"
)

// Configuration passthroughs. Each setter forwards to the device under the
// shared control lock and reports facade failures as *bladerf.OpError.

func (s *Source) control(op string, fn func(bladerf.Device) error) error {
	return bladerf.Wrap(op, s.handle.Control(fn))
}

func (s *Source) rx(ch int) bladerf.Channel { return bladerf.ChannelRX(ch) }

// SetSampleRate sets the receive sample rate and returns the rate in effect.
func (s *Source) SetSampleRate(rate float64) (float64, error) {
	var actual uint32
	err := s.control("set sample rate", func(d bladerf.Device) (err error) {
		actual, err = d.SetSampleRate(s.ch, uint32(math.Round(rate)))
		return err
	})
	return float64(actual), err
}

func (s *Source) SampleRate() (float64, error) {
	var rate uint32
	err := s.control("get sample rate", func(d bladerf.Device) (err error) {
		rate, err = d.SampleRate(s.ch)
		return err
	})
	return float64(rate), err
}

// FreqRange returns the tunable range of channel ch.
func (s *Source) FreqRange(ch int) bladerf.Range { return bladerf.FrequencyRange(s.rev) }

// SetCenterFreq tunes channel ch and returns the frequency in effect.
func (s *Source) SetCenterFreq(freq float64, ch int) (float64, error) {
	if err := s.control("set center frequency", func(d bladerf.Device) error {
		return d.SetFrequency(s.rx(ch), uint64(math.Round(freq)))
	}); err != nil {
		return 0, err
	}
	return s.CenterFreq(ch)
}

func (s *Source) CenterFreq(ch int) (float64, error) {
	var hz uint64
	err := s.control("get center frequency", func(d bladerf.Device) (err error) {
		hz, err = d.Frequency(s.rx(ch))
		return err
	})
	return float64(hz), err
}

// SetFreqCorr is accepted for interface compatibility; the VCTCXO trim is
// not driven from here, so the correction always stays at zero.
func (s *Source) SetFreqCorr(ppm float64, ch int) float64 { return s.FreqCorr(ch) }

func (s *Source) FreqCorr(ch int) float64 { return 0 }

func (s *Source) GainNames(ch int) ([]string, error) {
	var names []string
	err := s.control("get gain stages", func(d bladerf.Device) (err error) {
		names, err = d.GainStages(s.rx(ch))
		return err
	})
	return names, err
}

// GainRange returns the overall gain range of channel ch.
func (s *Source) GainRange(ch int) (bladerf.Range, error) {
	var r bladerf.Range
	err := s.control("get gain range", func(d bladerf.Device) (err error) {
		r, err = d.GainRange(s.rx(ch))
		return err
	})
	return r, err
}

// GainRangeByName returns the range of one gain stage.
func (s *Source) GainRangeByName(name string, ch int) (bladerf.Range, error) {
	var r bladerf.Range
	err := s.control("get gain range", func(d bladerf.Device) (err error) {
		r, err = d.GainStageRange(s.rx(ch), name)
		return err
	})
	return r, err
}

// SetGainMode switches between automatic and manual gain and returns the
// mode in effect.
func (s *Source) SetGainMode(automatic bool, ch int) (bool, error) {
	mode := bladerf.GainManual
	if automatic {
		mode = bladerf.GainDefault
	}
	if err := s.control("set gain mode", func(d bladerf.Device) error {
		return d.SetGainMode(s.rx(ch), mode)
	}); err != nil {
		return false, err
	}
	return s.GainMode(ch)
}

func (s *Source) GainMode(ch int) (bool, error) {
	var mode bladerf.GainMode
	err := s.control("get gain mode", func(d bladerf.Device) (err error) {
		mode, err = d.GainMode(s.rx(ch))
		return err
	})
	return mode.Automatic(), err
}

// SetGain sets the overall gain of channel ch and returns the gain in effect.
func (s *Source) SetGain(gain float64, ch int) (float64, error) {
	if err := s.control("set overall gain", func(d bladerf.Device) error {
		return d.SetGain(s.rx(ch), int(math.Round(gain)))
	}); err != nil {
		return 0, err
	}
	return s.Gain(ch)
}

// SetGainByName sets a single gain stage and returns its value in effect.
func (s *Source) SetGainByName(gain float64, name string, ch int) (float64, error) {
	if err := s.control("set "+name+" gain", func(d bladerf.Device) error {
		return d.SetGainStage(s.rx(ch), name, int(math.Round(gain)))
	}); err != nil {
		return 0, err
	}
	return s.GainByName(name, ch)
}

func (s *Source) Gain(ch int) (float64, error) {
	var g int
	err := s.control("get overall gain", func(d bladerf.Device) (err error) {
		g, err = d.Gain(s.rx(ch))
		return err
	})
	return float64(g), err
}

func (s *Source) GainByName(name string, ch int) (float64, error) {
	var g int
	err := s.control("get "+name+" gain", func(d bladerf.Device) (err error) {
		g, err = d.GainStage(s.rx(ch), name)
		return err
	})
	return float64(g), err
}

// Antennas lists the receive ports. Only revision 2 boards have a second.
func (s *Source) Antennas(ch int) []string {
	if s.rev == bladerf.Rev2 {
		return []string{"RX0", "RX1"}
	}
	return []string{"RX0"}
}

// SetAntenna does not switch ports; it reports the port in use.
func (s *Source) SetAntenna(name string, ch int) string { return s.Antenna(ch) }

func (s *Source) Antenna(ch int) string { return "RX0" }

// SetBandwidth selects the analog filter of channel ch. Zero picks a filter
// at three quarters of the sample rate to keep aliases out of band.
func (s *Source) SetBandwidth(bw float64, ch int) (float64, error) {
	if bw == 0 {
		rate, err := s.SampleRate()
		if err != nil {
			return 0, err
		}
		bw = rate * 0.75
	}
	if err := s.control("set bandwidth", func(d bladerf.Device) error {
		_, err := d.SetBandwidth(s.rx(ch), uint32(math.Round(bw)))
		return err
	}); err != nil {
		return 0, err
	}
	return s.Bandwidth(ch)
}

func (s *Source) Bandwidth(ch int) (float64, error) {
	var bw uint32
	err := s.control("get bandwidth", func(d bladerf.Device) (err error) {
		bw, err = d.Bandwidth(s.rx(ch))
		return err
	})
	return float64(bw), err
}

func (s *Source) BandwidthRange(ch int) []bladerf.Range { return bladerf.BandwidthRanges(s.rev) }

func (s *Source) ClockSources() []string { return bladerf.ClockSources() }

// SetClockSource selects the reference clock by name.
func (s *Source) SetClockSource(name string) error {
	sel, err := bladerf.ParseClockSelect(name)
	if err != nil {
		return fmt.Errorf("set clock source: %w", err)
	}
	return s.control("set clock source", func(d bladerf.Device) error {
		return d.SetClockSelect(sel)
	})
}

func (s *Source) ClockSource() (string, error) {
	var sel bladerf.ClockSelect
	err := s.control("get clock source", func(d bladerf.Device) (err error) {
		sel, err = d.ClockSelect()
		return err
	})
	return sel.String(), err
}

// DeviceInfo describes the board behind a session.
type DeviceInfo struct {
	Serial   string            `json:"serial"`
	Board    string            `json:"board"`
	FPGA     string            `json:"fpga"`
	Firmware string            `json:"firmware"`
	Channels int               `json:"channels"`
	Rates    []bladerf.Range   `json:"sample_rates"`
	Freq     bladerf.Range     `json:"frequency"`
	Filters  []bladerf.Range   `json:"bandwidths"`
	Gains    map[string]string `json:"gains"`
}

// Info collects the board identity and capability ranges.
func (s *Source) Info() (DeviceInfo, error) {
	info := DeviceInfo{
		Serial:   s.dev.Serial(),
		Board:    s.rev.String(),
		Channels: s.NumChannels(),
		Rates:    s.SampleRates(),
		Freq:     s.FreqRange(0),
		Filters:  s.BandwidthRange(0),
		Gains:    map[string]string{},
	}
	err := s.control("read versions", func(d bladerf.Device) error {
		fpga, err := d.FPGAVersion()
		if err != nil {
			return err
		}
		fw, err := d.FirmwareVersion()
		if err != nil {
			return err
		}
		info.FPGA, info.Firmware = fpga.String(), fw.String()
		return nil
	})
	if err != nil {
		return info, err
	}
	names, err := s.GainNames(0)
	if err != nil {
		return info, err
	}
	for _, name := range names {
		r, err := s.GainRangeByName(name, 0)
		if err != nil {
			return info, err
		}
		info.Gains[name] = fmt.Sprintf("%g..%g dB", r.Min, r.Max)
	}
	return info, nil
}
