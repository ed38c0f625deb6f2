package bladerf

import "time"

// Device is an opened bladeRF. Methods return nil or a Code (possibly
// wrapped) describing the failure.
//
// Control-path methods (everything except SyncRX) are not safe for
// concurrent use; callers that share a Device go through Handle.Control.
// SyncRX runs on the data path and may overlap control calls.
type Device interface {
	Serial() string
	BoardRevision() BoardRevision
	FPGAVersion() (Version, error)
	FirmwareVersion() (Version, error)

	SyncConfig(layout ChannelLayout, format Format, cfg StreamConfig) error
	EnableModule(ch Channel, enable bool) error
	// SyncRX fills buf with count interleaved I/Q pairs. meta is optional;
	// when set, its flags select the receive semantics and the device
	// reports status and timestamps back into it.
	SyncRX(buf []int16, count int, meta *Metadata, timeout time.Duration) error

	SetSampleRate(ch Channel, rate uint32) (uint32, error)
	SampleRate(ch Channel) (uint32, error)
	SetFrequency(ch Channel, hz uint64) error
	Frequency(ch Channel) (uint64, error)
	SetBandwidth(ch Channel, hz uint32) (uint32, error)
	Bandwidth(ch Channel) (uint32, error)

	SetGainMode(ch Channel, mode GainMode) error
	GainMode(ch Channel) (GainMode, error)
	SetGain(ch Channel, db int) error
	Gain(ch Channel) (int, error)
	GainRange(ch Channel) (Range, error)
	GainStages(ch Channel) ([]string, error)
	SetGainStage(ch Channel, stage string, db int) error
	GainStage(ch Channel, stage string) (int, error)
	GainStageRange(ch Channel, stage string) (Range, error)

	SetSampling(s Sampling) error
	Sampling() (Sampling, error)
	SetClockSelect(c ClockSelect) error
	ClockSelect() (ClockSelect, error)

	Close() error
}

// MinFPGAVersion is the oldest FPGA image that no longer embeds sample
// markers in the data stream.
var MinFPGAVersion = Version{Major: 0, Minor: 0, Patch: 1}

var rev1Bandwidths = []float64{
	1.5e6, 1.75e6, 2.5e6, 2.75e6, 3e6, 3.84e6, 5e6, 5.5e6,
	6e6, 7e6, 8.75e6, 10e6, 12e6, 14e6, 20e6, 28e6,
}

// SampleRateRange returns the supported sample rates for a board.
func SampleRateRange(rev BoardRevision) Range {
	if rev == Rev2 {
		return Range{Min: 520834, Max: 61.44e6, Step: 1}
	}
	return Range{Min: 160e3, Max: 40e6, Step: 1}
}

// FrequencyRange returns the tunable range for a board.
func FrequencyRange(rev BoardRevision) Range {
	if rev == Rev2 {
		return Range{Min: 70e6, Max: 6e9, Step: 1}
	}
	return Range{Min: 237.5e6, Max: 3.8e9, Step: 1}
}

// BandwidthRanges returns the selectable analog filter bandwidths. Revision
// 1 boards only offer the LMS6002D's discrete filters.
func BandwidthRanges(rev BoardRevision) []Range {
	if rev == Rev2 {
		return []Range{{Min: 200e3, Max: 56e6, Step: 1}}
	}
	out := make([]Range, len(rev1Bandwidths))
	for i, bw := range rev1Bandwidths {
		out[i] = Range{Min: bw, Max: bw}
	}
	return out
}

// NearestBandwidth rounds hz up to the next filter the board offers.
func NearestBandwidth(rev BoardRevision, hz float64) float64 {
	if rev == Rev2 {
		return BandwidthRanges(rev)[0].Clip(hz)
	}
	for _, bw := range rev1Bandwidths {
		if bw >= hz {
			return bw
		}
	}
	return rev1Bandwidths[len(rev1Bandwidths)-1]
}

// NumChannels returns how many channels a board exposes per direction.
func NumChannels(rev BoardRevision) int {
	if rev == Rev2 {
		return 2
	}
	return 1
}
