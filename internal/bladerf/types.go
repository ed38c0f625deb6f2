package bladerf

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the stream direction of a channel.
type Direction int

const (
	RX Direction = iota
	TX
)

func (d Direction) String() string {
	if d == TX {
		return "TX"
	}
	return "RX"
}

// Channel identifies a channel the way libbladeRF does: the index shifted
// left by one with the direction in the low bit.
type Channel int

// ChannelRX returns the receive channel with the given index.
func ChannelRX(n int) Channel { return Channel(n << 1) }

// ChannelTX returns the transmit channel with the given index.
func ChannelTX(n int) Channel { return Channel(n<<1 | 1) }

// Direction reports whether the channel receives or transmits.
func (c Channel) Direction() Direction { return Direction(c & 1) }

// Index returns the per-direction channel index.
func (c Channel) Index() int { return int(c) >> 1 }

func (c Channel) String() string { return fmt.Sprintf("%s%d", c.Direction(), c.Index()) }

// ChannelLayout selects the synchronous stream layout.
type ChannelLayout int

const (
	RXX1 ChannelLayout = iota
	TXX1
	RXX2
	TXX2
)

// Format is the sample format used on the data path.
type Format int

const (
	// FormatSC16Q11 is interleaved signed 16-bit I/Q in Q4.11.
	FormatSC16Q11 Format = iota
	// FormatSC16Q11Meta is FormatSC16Q11 with per-transfer metadata.
	FormatSC16Q11Meta
)

func (f Format) String() string {
	if f == FormatSC16Q11Meta {
		return "sc16q11_meta"
	}
	return "sc16q11"
}

// StreamConfig sizes the synchronous interface.
type StreamConfig struct {
	NumBuffers   int
	BufferSize   int // samples per buffer, multiple of 1024
	NumTransfers int
	Timeout      time.Duration
}

// Metadata flags and status bits.
const (
	MetaFlagTxBurstStart uint32 = 1 << 0
	MetaFlagTxBurstEnd   uint32 = 1 << 1
	MetaFlagTxNow        uint32 = 1 << 2
	MetaFlagRxNow        uint32 = 1 << 31

	MetaStatusOverrun  uint32 = 1 << 0
	MetaStatusUnderrun uint32 = 1 << 1
)

// Metadata describes one synchronous transfer.
type Metadata struct {
	Timestamp   uint64
	Flags       uint32
	Status      uint32
	ActualCount int
}

// Sampling is the sample clock derivation of a revision-1 board.
type Sampling int

const (
	SamplingUnknown Sampling = iota
	SamplingInternal
	SamplingExternal
)

func (s Sampling) String() string {
	switch s {
	case SamplingInternal:
		return "internal"
	case SamplingExternal:
		return "external"
	default:
		return "unknown"
	}
}

// ParseSampling maps "internal"/"external" to a Sampling.
func ParseSampling(s string) (Sampling, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "internal":
		return SamplingInternal, nil
	case "external":
		return SamplingExternal, nil
	default:
		return SamplingUnknown, fmt.Errorf("invalid sampling mode %q", s)
	}
}

// ClockSelect is the reference clock source.
type ClockSelect int

const (
	ClockInternal ClockSelect = iota
	ClockExternal
)

func (c ClockSelect) String() string {
	if c == ClockExternal {
		return "external"
	}
	return "internal"
}

// ClockSources lists the names accepted by ParseClockSelect.
func ClockSources() []string { return []string{"internal", "external"} }

// ParseClockSelect maps a clock source name to a ClockSelect.
func ParseClockSelect(s string) (ClockSelect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "internal", "onboard":
		return ClockInternal, nil
	case "external":
		return ClockExternal, nil
	default:
		return ClockInternal, fmt.Errorf("invalid clock source %q", s)
	}
}

// GainMode selects manual or automatic gain control.
type GainMode int

const (
	GainDefault GainMode = iota
	GainManual
	GainFastAttackAGC
	GainSlowAttackAGC
	GainHybridAGC
)

// Automatic reports whether the mode lets the device pick gains.
func (m GainMode) Automatic() bool { return m != GainManual }

// BoardRevision distinguishes bladeRF generations.
type BoardRevision int

const (
	RevUnknown BoardRevision = iota
	Rev1
	Rev2
)

func (r BoardRevision) String() string {
	switch r {
	case Rev1:
		return "bladerf1"
	case Rev2:
		return "bladerf2"
	default:
		return "unknown"
	}
}

// Version is a firmware or FPGA version.
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string { return fmt.Sprintf("v%d.%d.%d", v.Major, v.Minor, v.Patch) }

// Less reports whether v predates o.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// Range is an inclusive numeric range. A zero Step means continuous.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

// Clip bounds v to the range.
func (r Range) Clip(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}
