package bladerf

import (
	"math"
	"math/rand"
	"time"
)

// Sim is a software bladeRF that synthesizes a complex tone in SC16Q11.
// With Realtime set, SyncRX paces itself to the configured sample rate and
// reports ErrTimeout when a pull could not complete within the timeout.
type Sim struct {
	controls

	// ToneOffset is the tone frequency relative to the tuned center, in Hz.
	ToneOffset float64
	// Amplitude is the tone amplitude as a fraction of full scale.
	Amplitude float64
	// NoiseLevel is the standard deviation of the added noise, fraction of full scale.
	NoiseLevel float64
	Realtime   bool

	rng      *rand.Rand
	phase    float64
	produced uint64
	deadline time.Time
}

// NewSim builds a simulated board.
func NewSim(serial string, rev BoardRevision) *Sim {
	s := &Sim{
		ToneOffset: 100e3,
		Amplitude:  0.5,
		NoiseLevel: 1e-3,
		rng:        rand.New(rand.NewSource(1)),
	}
	s.init(serial, rev)
	return s
}

func (s *Sim) SyncRX(buf []int16, count int, meta *Metadata, timeout time.Duration) error {
	s.mu.Lock()
	if err := s.rxReady(buf, count, meta); err != nil {
		s.mu.Unlock()
		return err
	}
	rate := float64(s.sampleRate[ChannelRX(0)])
	var wait time.Duration
	if s.Realtime {
		var err error
		if wait, err = s.pace(count, rate, s.streamTimeout(timeout)); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	step := 2 * math.Pi * s.ToneOffset / rate
	amp := s.Amplitude * SC16Q11Scale
	noise := s.NoiseLevel * SC16Q11Scale
	for i := 0; i < count; i++ {
		re := amp*math.Cos(s.phase) + s.rng.NormFloat64()*noise
		im := amp*math.Sin(s.phase) + s.rng.NormFloat64()*noise
		buf[2*i] = saturate(re)
		buf[2*i+1] = saturate(im)
		s.phase = math.Mod(s.phase+step, 2*math.Pi)
	}
	if meta != nil {
		meta.Timestamp = s.produced
		meta.ActualCount = count
		meta.Status = 0
	}
	s.produced += uint64(count)
	s.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}
	return nil
}

// pace reserves the next count samples of airtime and returns how long the
// caller must wait for them to have arrived. Called with mu held; the wait
// itself happens after mu is released so control calls are not held up.
func (s *Sim) pace(count int, rate float64, timeout time.Duration) (time.Duration, error) {
	now := time.Now()
	if s.deadline.Before(now) {
		s.deadline = now
	}
	next := s.deadline.Add(time.Duration(float64(count) / rate * float64(time.Second)))
	wait := next.Sub(now)
	if timeout > 0 && wait > timeout {
		s.deadline = now
		return 0, ErrTimeout
	}
	s.deadline = next
	return wait, nil
}

// SC16Q11Scale is the full-scale magnitude of a Q4.11 sample.
const SC16Q11Scale = 2048.0

func saturate(v float64) int16 {
	v = math.Round(v)
	switch {
	case v > SC16Q11Scale-1:
		return SC16Q11Scale - 1
	case v < -SC16Q11Scale:
		return -SC16Q11Scale
	}
	return int16(v)
}
