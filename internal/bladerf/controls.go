package bladerf

import (
	"math"
	"sync"
	"time"
)

type gainStage struct {
	name string
	rng  Range
}

var (
	rev1RXStages = []gainStage{
		{"lna", Range{Min: 0, Max: 6, Step: 3}},
		{"rxvga1", Range{Min: 5, Max: 30, Step: 1}},
		{"rxvga2", Range{Min: 0, Max: 30, Step: 3}},
	}
	rev2RXStages = []gainStage{
		{"full", Range{Min: -15, Max: 60, Step: 1}},
	}
)

// controls is the in-memory register file shared by the software backends.
// It validates requests the way the hardware does and answers with the same
// status codes.
type controls struct {
	mu sync.Mutex

	serial string
	rev    BoardRevision
	fpga   Version
	fw     Version

	sampleRate map[Channel]uint32
	frequency  map[Channel]uint64
	bandwidth  map[Channel]uint32
	gainMode   map[Channel]GainMode
	stageGain  map[Channel]map[string]int
	enabled    map[Channel]bool

	sampling Sampling
	clock    ClockSelect

	configured bool
	layout     ChannelLayout
	format     Format
	stream     StreamConfig

	failOn map[string]Code
	closed bool
}

func (c *controls) init(serial string, rev BoardRevision) {
	*c = controls{
		serial:     serial,
		rev:        rev,
		fpga:       Version{Major: 0, Minor: 11, Patch: 0},
		fw:         Version{Major: 2, Minor: 4, Patch: 0},
		sampleRate: make(map[Channel]uint32),
		frequency:  make(map[Channel]uint64),
		bandwidth:  make(map[Channel]uint32),
		gainMode:   make(map[Channel]GainMode),
		stageGain:  make(map[Channel]map[string]int),
		enabled:    make(map[Channel]bool),
		sampling:   SamplingInternal,
		failOn:     make(map[string]Code),
	}
	for i := 0; i < NumChannels(rev); i++ {
		for _, ch := range []Channel{ChannelRX(i), ChannelTX(i)} {
			c.sampleRate[ch] = 1_000_000
			c.frequency[ch] = uint64(FrequencyRange(rev).Min)
			c.bandwidth[ch] = uint32(NearestBandwidth(rev, 750_000))
			c.gainMode[ch] = GainDefault
		}
		stages := make(map[string]int)
		for _, st := range rxStages(rev) {
			stages[st.name] = int(st.rng.Min)
		}
		c.stageGain[ChannelRX(i)] = stages
	}
}

func rxStages(rev BoardRevision) []gainStage {
	if rev == Rev2 {
		return rev2RXStages
	}
	return rev1RXStages
}

// FailOn makes every later call of the named method (e.g. "SetBandwidth")
// fail with code. A zero code clears the injection.
func (c *controls) FailOn(method string, code Code) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if code == 0 {
		delete(c.failOn, method)
		return
	}
	c.failOn[method] = code
}

// check is called with mu held.
func (c *controls) check(method string, ch Channel) error {
	if c.closed {
		return ErrNoDev
	}
	if code, ok := c.failOn[method]; ok {
		return code
	}
	if ch >= 0 && ch.Index() >= NumChannels(c.rev) {
		return ErrInval
	}
	return nil
}

const noChannel Channel = -1

func (c *controls) Serial() string               { return c.serial }
func (c *controls) BoardRevision() BoardRevision { return c.rev }

func (c *controls) FPGAVersion() (Version, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("FPGAVersion", noChannel); err != nil {
		return Version{}, err
	}
	return c.fpga, nil
}

func (c *controls) FirmwareVersion() (Version, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("FirmwareVersion", noChannel); err != nil {
		return Version{}, err
	}
	return c.fw, nil
}

// SetFPGAVersion overrides the reported FPGA image version.
func (c *controls) SetFPGAVersion(v Version) {
	c.mu.Lock()
	c.fpga = v
	c.mu.Unlock()
}

func (c *controls) SyncConfig(layout ChannelLayout, format Format, cfg StreamConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("SyncConfig", noChannel); err != nil {
		return err
	}
	if cfg.NumBuffers <= 0 || cfg.BufferSize <= 0 || cfg.BufferSize%1024 != 0 {
		return ErrInval
	}
	if cfg.NumTransfers <= 0 || cfg.NumTransfers >= cfg.NumBuffers {
		return ErrInval
	}
	if layout == RXX2 && c.rev != Rev2 {
		return ErrUnsupported
	}
	c.configured, c.layout, c.format, c.stream = true, layout, format, cfg
	return nil
}

func (c *controls) EnableModule(ch Channel, enable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("EnableModule", ch); err != nil {
		return err
	}
	c.enabled[ch] = enable
	return nil
}

// rxReady validates a synchronous receive request. Called with mu held.
func (c *controls) rxReady(buf []int16, count int, meta *Metadata) error {
	if err := c.check("SyncRX", noChannel); err != nil {
		return err
	}
	if !c.configured || (c.layout != RXX1 && c.layout != RXX2) {
		return ErrInval
	}
	if !c.enabled[ChannelRX(0)] {
		return ErrNotInit
	}
	if count < 0 || len(buf) < 2*count {
		return ErrInval
	}
	if c.format == FormatSC16Q11Meta && meta == nil {
		return ErrInval
	}
	return nil
}

func (c *controls) SetSampleRate(ch Channel, rate uint32) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("SetSampleRate", ch); err != nil {
		return 0, err
	}
	if !SampleRateRange(c.rev).Contains(float64(rate)) {
		return 0, ErrRange
	}
	c.sampleRate[ch] = rate
	return rate, nil
}

func (c *controls) SampleRate(ch Channel) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("SampleRate", ch); err != nil {
		return 0, err
	}
	return c.sampleRate[ch], nil
}

func (c *controls) SetFrequency(ch Channel, hz uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("SetFrequency", ch); err != nil {
		return err
	}
	if !FrequencyRange(c.rev).Contains(float64(hz)) {
		return ErrRange
	}
	c.frequency[ch] = hz
	return nil
}

func (c *controls) Frequency(ch Channel) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("Frequency", ch); err != nil {
		return 0, err
	}
	return c.frequency[ch], nil
}

func (c *controls) SetBandwidth(ch Channel, hz uint32) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("SetBandwidth", ch); err != nil {
		return 0, err
	}
	actual := uint32(NearestBandwidth(c.rev, float64(hz)))
	c.bandwidth[ch] = actual
	return actual, nil
}

func (c *controls) Bandwidth(ch Channel) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("Bandwidth", ch); err != nil {
		return 0, err
	}
	return c.bandwidth[ch], nil
}

func (c *controls) SetGainMode(ch Channel, mode GainMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("SetGainMode", ch); err != nil {
		return err
	}
	if ch.Direction() != RX {
		return ErrUnsupported
	}
	c.gainMode[ch] = mode
	return nil
}

func (c *controls) GainMode(ch Channel) (GainMode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("GainMode", ch); err != nil {
		return GainDefault, err
	}
	return c.gainMode[ch], nil
}

func (c *controls) GainRange(ch Channel) (Range, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("GainRange", ch); err != nil {
		return Range{}, err
	}
	if ch.Direction() != RX {
		return Range{}, ErrUnsupported
	}
	return overallRange(rxStages(c.rev)), nil
}

func overallRange(stages []gainStage) Range {
	var r Range
	for _, st := range stages {
		r.Min += st.rng.Min
		r.Max += st.rng.Max
	}
	r.Step = 1
	return r
}

// SetGain spreads db over the stages front to back, each stage taking as
// much as its range and step allow.
func (c *controls) SetGain(ch Channel, db int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("SetGain", ch); err != nil {
		return err
	}
	if ch.Direction() != RX {
		return ErrUnsupported
	}
	stages := rxStages(c.rev)
	remaining := overallRange(stages).Clip(float64(db))
	for _, st := range stages {
		remaining -= st.rng.Min
	}
	values := c.stageGain[ch]
	for _, st := range stages {
		extra := math.Min(remaining, st.rng.Max-st.rng.Min)
		if st.rng.Step > 1 {
			extra = math.Floor(extra/st.rng.Step) * st.rng.Step
		}
		values[st.name] = int(st.rng.Min + extra)
		remaining -= extra
	}
	return nil
}

func (c *controls) Gain(ch Channel) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("Gain", ch); err != nil {
		return 0, err
	}
	if ch.Direction() != RX {
		return 0, ErrUnsupported
	}
	total := 0
	for _, v := range c.stageGain[ch] {
		total += v
	}
	return total, nil
}

func (c *controls) GainStages(ch Channel) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("GainStages", ch); err != nil {
		return nil, err
	}
	if ch.Direction() != RX {
		return nil, nil
	}
	stages := rxStages(c.rev)
	names := make([]string, len(stages))
	for i, st := range stages {
		names[i] = st.name
	}
	return names, nil
}

func (c *controls) findStage(ch Channel, stage string) (gainStage, error) {
	if ch.Direction() != RX {
		return gainStage{}, ErrUnsupported
	}
	for _, st := range rxStages(c.rev) {
		if st.name == stage {
			return st, nil
		}
	}
	return gainStage{}, ErrInval
}

func (c *controls) SetGainStage(ch Channel, stage string, db int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("SetGainStage", ch); err != nil {
		return err
	}
	st, err := c.findStage(ch, stage)
	if err != nil {
		return err
	}
	if !st.rng.Contains(float64(db)) {
		return ErrRange
	}
	c.stageGain[ch][stage] = db
	return nil
}

func (c *controls) GainStage(ch Channel, stage string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("GainStage", ch); err != nil {
		return 0, err
	}
	if _, err := c.findStage(ch, stage); err != nil {
		return 0, err
	}
	return c.stageGain[ch][stage], nil
}

func (c *controls) GainStageRange(ch Channel, stage string) (Range, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("GainStageRange", ch); err != nil {
		return Range{}, err
	}
	st, err := c.findStage(ch, stage)
	if err != nil {
		return Range{}, err
	}
	return st.rng, nil
}

func (c *controls) SetSampling(s Sampling) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("SetSampling", noChannel); err != nil {
		return err
	}
	if c.rev != Rev1 {
		return ErrUnsupported
	}
	if s != SamplingInternal && s != SamplingExternal {
		return ErrInval
	}
	c.sampling = s
	return nil
}

func (c *controls) Sampling() (Sampling, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("Sampling", noChannel); err != nil {
		return SamplingUnknown, err
	}
	return c.sampling, nil
}

func (c *controls) SetClockSelect(sel ClockSelect) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("SetClockSelect", noChannel); err != nil {
		return err
	}
	c.clock = sel
	return nil
}

func (c *controls) ClockSelect() (ClockSelect, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("ClockSelect", noChannel); err != nil {
		return ClockInternal, err
	}
	return c.clock, nil
}

func (c *controls) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNoDev
	}
	c.closed = true
	return nil
}

// streamTimeout returns the effective pull timeout. Called with mu held.
func (c *controls) streamTimeout(requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	return c.stream.Timeout
}
