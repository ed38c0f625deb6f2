package bladerf

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

func TestStrerrorAndWrap(t *testing.T) {
	if got := Strerror(ErrTimeout); got != "Operation timed out" {
		t.Fatalf("unexpected text %q", got)
	}
	if got := Strerror(Code(-99)); got != "Unknown error code" {
		t.Fatalf("unexpected text for unknown code %q", got)
	}
	if Status(0) != nil {
		t.Fatalf("zero status must be nil")
	}

	err := Wrap("set bandwidth", ErrInval)
	if err.Error() != "bladerf: could not set bandwidth: Invalid operation or parameter" {
		t.Fatalf("unexpected message %q", err)
	}
	if !errors.Is(err, ErrInval) {
		t.Fatalf("wrapped error should match its code")
	}
	if CodeOf(err) != ErrInval {
		t.Fatalf("CodeOf = %d", CodeOf(err))
	}
	if CodeOf(errors.New("plain")) != ErrUnexpected {
		t.Fatalf("plain errors should report ErrUnexpected")
	}
	if Wrap("noop", nil) != nil {
		t.Fatalf("wrapping nil must stay nil")
	}
}

func TestChannelEncoding(t *testing.T) {
	rx1, tx0 := ChannelRX(1), ChannelTX(0)
	if rx1 != 2 || tx0 != 1 {
		t.Fatalf("unexpected encoding rx1=%d tx0=%d", rx1, tx0)
	}
	if rx1.Direction() != RX || tx0.Direction() != TX || rx1.Index() != 1 {
		t.Fatalf("round trip failed")
	}
	if rx1.String() != "RX1" {
		t.Fatalf("unexpected name %q", rx1)
	}
}

func TestParseSamplingAndClock(t *testing.T) {
	if s, err := ParseSampling("External"); err != nil || s != SamplingExternal {
		t.Fatalf("ParseSampling: %v %v", s, err)
	}
	if _, err := ParseSampling("turbo"); err == nil {
		t.Fatalf("expected error for invalid sampling")
	}
	if c, err := ParseClockSelect("external"); err != nil || c != ClockExternal {
		t.Fatalf("ParseClockSelect: %v %v", c, err)
	}
}

func TestVersionLess(t *testing.T) {
	if !(Version{0, 0, 0}).Less(MinFPGAVersion) {
		t.Fatalf("v0.0.0 predates the minimum")
	}
	if (Version{0, 11, 0}).Less(MinFPGAVersion) {
		t.Fatalf("v0.11.0 is recent enough")
	}
}

func TestNearestBandwidth(t *testing.T) {
	cases := []struct {
		rev  BoardRevision
		in   float64
		want float64
	}{
		{Rev1, 1e6, 1.5e6},
		{Rev1, 3e6, 3e6},
		{Rev1, 3.1e6, 3.84e6},
		{Rev1, 50e6, 28e6},
		{Rev2, 100e3, 200e3},
		{Rev2, 10e6, 10e6},
	}
	for _, tc := range cases {
		if got := NearestBandwidth(tc.rev, tc.in); got != tc.want {
			t.Errorf("NearestBandwidth(%v, %v) = %v, want %v", tc.rev, tc.in, got, tc.want)
		}
	}
}

func TestControlsValidateAndInject(t *testing.T) {
	m := NewMock(Rev1)
	if _, err := m.SetSampleRate(ChannelRX(0), 100); !errors.Is(err, ErrRange) {
		t.Fatalf("expected ErrRange, got %v", err)
	}
	if err := m.SetFrequency(ChannelRX(1), 915e6); !errors.Is(err, ErrInval) {
		t.Fatalf("rev1 has a single RX channel, got %v", err)
	}
	if err := m.SetGain(ChannelRX(0), 30); err != nil {
		t.Fatalf("SetGain: %v", err)
	}
	if g, _ := m.Gain(ChannelRX(0)); g != 30 {
		t.Fatalf("expected overall gain 30, got %d", g)
	}
	if lna, _ := m.GainStage(ChannelRX(0), "lna"); lna != 6 {
		t.Fatalf("expected lna to take 6 dB first, got %d", lna)
	}

	m.FailOn("SetBandwidth", ErrIO)
	if _, err := m.SetBandwidth(ChannelRX(0), 1e6); !errors.Is(err, ErrIO) {
		t.Fatalf("expected injected ErrIO, got %v", err)
	}
	m.FailOn("SetBandwidth", 0)
	if bw, err := m.SetBandwidth(ChannelRX(0), 1e6); err != nil || bw != 1.5e6 {
		t.Fatalf("SetBandwidth = %d, %v", bw, err)
	}
}

func TestSimTone(t *testing.T) {
	s := NewSim("sim0", Rev1)
	s.NoiseLevel = 0
	cfg := StreamConfig{NumBuffers: 16, BufferSize: 4096, NumTransfers: 8, Timeout: time.Second}
	buf := make([]int16, 2*64)
	if err := s.SyncRX(buf, 64, nil, time.Second); !errors.Is(err, ErrInval) {
		t.Fatalf("pull before SyncConfig should fail, got %v", err)
	}
	if err := s.SyncConfig(RXX1, FormatSC16Q11, cfg); err != nil {
		t.Fatalf("SyncConfig: %v", err)
	}
	if err := s.EnableModule(ChannelRX(0), true); err != nil {
		t.Fatalf("EnableModule: %v", err)
	}
	if err := s.SyncRX(buf, 64, nil, time.Second); err != nil {
		t.Fatalf("SyncRX: %v", err)
	}
	for i := 0; i < 64; i++ {
		mag := math.Hypot(float64(buf[2*i]), float64(buf[2*i+1]))
		if math.Abs(mag-1024) > 2 {
			t.Fatalf("sample %d magnitude %.1f, want ~1024", i, mag)
		}
	}
}

func TestSimRealtimeDoesNotBlockControls(t *testing.T) {
	s := NewSim("sim0", Rev1)
	s.Realtime = true
	if _, err := s.SetSampleRate(ChannelRX(0), 200000); err != nil {
		t.Fatalf("SetSampleRate: %v", err)
	}
	cfg := StreamConfig{NumBuffers: 16, BufferSize: 4096, NumTransfers: 8, Timeout: 5 * time.Second}
	if err := s.SyncConfig(RXX1, FormatSC16Q11, cfg); err != nil {
		t.Fatalf("SyncConfig: %v", err)
	}
	if err := s.EnableModule(ChannelRX(0), true); err != nil {
		t.Fatalf("EnableModule: %v", err)
	}

	// 60000 samples at 200 kHz is 300 ms of airtime.
	buf := make([]int16, 2*60000)
	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- s.SyncRX(buf, 60000, nil, 5*time.Second) }()
	time.Sleep(30 * time.Millisecond)

	ctlStart := time.Now()
	if _, err := s.SampleRate(ChannelRX(0)); err != nil {
		t.Fatalf("SampleRate: %v", err)
	}
	if d := time.Since(ctlStart); d > 150*time.Millisecond {
		t.Fatalf("control call waited %v behind a paced pull", d)
	}

	if err := <-done; err != nil {
		t.Fatalf("SyncRX: %v", err)
	}
	if d := time.Since(start); d < 250*time.Millisecond {
		t.Fatalf("pull returned after %v, expected pacing to ~300ms", d)
	}

	if err := s.SyncRX(buf, 60000, nil, 50*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout for a pull longer than its timeout, got %v", err)
	}
}

func TestSimRejectsBadStreamConfig(t *testing.T) {
	s := NewSim("sim0", Rev1)
	bad := StreamConfig{NumBuffers: 4, BufferSize: 4096, NumTransfers: 4}
	if err := s.SyncConfig(RXX1, FormatSC16Q11, bad); !errors.Is(err, ErrInval) {
		t.Fatalf("transfers must be fewer than buffers, got %v", err)
	}
}

func TestRegistrySharesHandles(t *testing.T) {
	opens := 0
	reg := &Registry{Open: func(string) (Device, error) {
		opens++
		return NewMock(Rev2), nil
	}}
	a, err := reg.Acquire("mock:0")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	b, err := reg.Acquire(" mock:0 ")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if a != b || opens != 1 || reg.Refs("mock:0") != 2 {
		t.Fatalf("expected one shared handle, opens=%d refs=%d", opens, reg.Refs("mock:0"))
	}
	if err := a.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	dev := b.Stream().(*Mock)
	if dev.Closed() {
		t.Fatalf("device closed while still referenced")
	}
	if err := b.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !dev.Closed() {
		t.Fatalf("last release should close the device")
	}
	if err := b.Release(); err == nil {
		t.Fatalf("double release should fail")
	}
}

func TestRegistryRetriesOpen(t *testing.T) {
	attempts := 0
	reg := &Registry{
		Retries:       3,
		RetryInterval: time.Millisecond,
		Open: func(string) (Device, error) {
			attempts++
			if attempts < 3 {
				return nil, ErrNoDev
			}
			return NewMock(Rev1), nil
		},
	}
	h, err := reg.Acquire("0")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release()
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}

	reg = &Registry{
		Retries:       1,
		RetryInterval: time.Millisecond,
		Open:          func(string) (Device, error) { return nil, ErrNoDev },
	}
	if _, err := reg.Acquire("0"); !errors.Is(err, ErrNoDev) {
		t.Fatalf("expected ErrNoDev after retries, got %v", err)
	}
}

func TestRegistryZeroRetriesMakesOneAttempt(t *testing.T) {
	attempts := 0
	reg := &Registry{
		RetryInterval: time.Millisecond,
		Open: func(string) (Device, error) {
			attempts++
			return nil, ErrNoDev
		},
	}
	done := make(chan error, 1)
	go func() {
		_, err := reg.Acquire("missing")
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrNoDev) {
			t.Fatalf("expected ErrNoDev, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Acquire kept retrying with Retries == 0")
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
	if reg.Refs("missing") != 0 {
		t.Fatalf("failed open must not leave a handle behind")
	}
}

func TestRegistryUnknownBackendIsNotRetried(t *testing.T) {
	attempts := 0
	reg := &Registry{
		Retries:       5,
		RetryInterval: time.Millisecond,
		Open: func(sel string) (Device, error) {
			attempts++
			return OpenSelector(sel)
		},
	}
	_, err := reg.Acquire("nosuch:0")
	if !errors.Is(err, ErrUnknownBackend) || !errors.Is(err, ErrNoDev) {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("unknown backend retried %d times", attempts)
	}
}

func TestRegistryOpensOutsideLock(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var mu sync.Mutex
	slowOpens := 0
	reg := &Registry{Open: func(sel string) (Device, error) {
		if sel == "slow" {
			mu.Lock()
			slowOpens++
			first := slowOpens == 1
			mu.Unlock()
			if first {
				close(entered)
			}
			<-release
		}
		return NewMock(Rev1), nil
	}}

	results := make(chan *Handle, 2)
	for i := 0; i < 2; i++ {
		go func() {
			h, err := reg.Acquire("slow")
			if err != nil {
				t.Errorf("Acquire(slow): %v", err)
			}
			results <- h
		}()
	}
	<-entered

	fast := make(chan error, 1)
	go func() {
		h, err := reg.Acquire("fast")
		if err == nil {
			err = h.Release()
		}
		fast <- err
	}()
	select {
	case err := <-fast:
		if err != nil {
			t.Fatalf("Acquire(fast): %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("a pending open blocked another selector")
	}
	if reg.Refs("slow") != 0 {
		t.Fatalf("handle visible before its open finished")
	}

	close(release)
	a, b := <-results, <-results
	if a == nil || a != b {
		t.Fatalf("concurrent acquires should share one handle")
	}
	if slowOpens != 1 || reg.Refs("slow") != 2 {
		t.Fatalf("opens=%d refs=%d", slowOpens, reg.Refs("slow"))
	}
}

func TestParseSelector(t *testing.T) {
	cases := map[string][2]string{
		"":         {"sim", ""},
		"sim":      {"sim", ""},
		"sim:rev2": {"sim", "rev2"},
		"0":        {"sim", "0"},
		"mock:abc": {"mock", "abc"},
	}
	for in, want := range cases {
		b, id := ParseSelector(in)
		if b != want[0] || id != want[1] {
			t.Errorf("ParseSelector(%q) = %q,%q want %q,%q", in, b, id, want[0], want[1])
		}
	}
	dev, err := OpenSelector("sim:rev2")
	if err != nil {
		t.Fatalf("OpenSelector: %v", err)
	}
	if dev.BoardRevision() != Rev2 {
		t.Fatalf("expected rev2 simulator")
	}
}
