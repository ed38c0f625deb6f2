package source

import (
	"fmt"

	"github.com/UbhaSecurity/gr-osmosdr/internal/bladerf"
	"github.com/UbhaSecurity/gr-osmosdr/internal/logging"
)

// Scale is the full-scale value of a Q4.11 sample.
const Scale = 2048.0

// ConvertSC16Q11 converts interleaved I/Q integers into complex samples,
// dividing each component by Scale. It returns the number of samples written.
func ConvertSC16Q11(dst []complex64, src []int16) int {
	n := min(len(dst), len(src)/2)
	src = src[:2*n]
	for i := range dst[:n] {
		dst[i] = complex(float32(src[2*i])/Scale, float32(src[2*i+1])/Scale)
	}
	return n
}

// Stats summarizes a session. It is updated by Work and must be read from
// the goroutine that calls Work.
type Stats struct {
	State    string `json:"state"`
	Quanta   uint64 `json:"quanta"`
	Samples  uint64 `json:"samples"`
	Failures uint64 `json:"failures"`
	Streak   int    `json:"streak"`
	Capacity int    `json:"capacity"`
	Overruns uint64 `json:"overruns"`
	Grows    uint64 `json:"grows"`
}

// Stats returns a snapshot of the session counters.
func (s *Source) Stats() Stats {
	st := s.stats
	st.State = s.state.String()
	st.Streak = s.failures
	st.Capacity = s.Capacity()
	return st
}

// Capacity is the conversion buffer size in sample pairs.
func (s *Source) Capacity() int { return len(s.conv) / 2 }

// FailureStreak is the number of consecutive failed pulls.
func (s *Source) FailureStreak() int { return s.failures }

// Work fills the first output buffer with noutput samples and returns
// noutput, or WorkDone once the session has ended.
//
// A failed device pull does not fail the call: the previous contents of the
// conversion buffer are converted and returned so the host keeps its
// per-call sample count. Only after MaxConsecutiveFailures failed pulls in a
// row does the session stop and report WorkDone. Errors returned by Work are
// fatal and leave the session Stopped.
func (s *Source) Work(noutput int, outputs [][]complex64) (int, error) {
	switch s.state {
	case Created:
		return 0, ErrNotStarted
	case Stopped:
		return WorkDone, nil
	}
	if noutput < 0 {
		return 0, s.abort("invalid work request", fatal(ErrInvalidCount))
	}
	if len(outputs) == 0 {
		return 0, s.abort("invalid work request", fatal(ErrNoOutputs))
	}
	out := outputs[0]
	if len(out) < noutput {
		return 0, s.abort("invalid work request",
			fatal(fmt.Errorf("%w: %d < %d", ErrShortBuffer, len(out), noutput)))
	}
	if noutput == 0 {
		return 0, nil
	}

	if err := s.grow(noutput); err != nil {
		return 0, s.abort("conversion buffer growth failed", err)
	}

	var meta *bladerf.Metadata
	if s.cfg.Metadata {
		s.meta = bladerf.Metadata{Flags: bladerf.MetaFlagRxNow}
		meta = &s.meta
	}

	buf := s.conv[:2*noutput]
	if err := s.dev.SyncRX(buf, noutput, meta, s.cfg.Stream.Timeout); err != nil {
		s.failures++
		s.stats.Failures++
		s.log.Warn("sync rx failed",
			logging.F("error", bladerf.Strerror(bladerf.CodeOf(err))),
			logging.F("streak", s.failures))
		if s.failures >= s.cfg.MaxConsecutiveFailures {
			s.log.Error("consecutive error limit hit, shutting down",
				logging.F("limit", s.cfg.MaxConsecutiveFailures))
			s.state = Stopped
			return WorkDone, nil
		}
	} else {
		s.failures = 0
		if meta != nil && meta.Status&bladerf.MetaStatusOverrun != 0 {
			s.stats.Overruns++
			s.log.Debug("overrun", logging.F("timestamp", meta.Timestamp), logging.F("count", meta.ActualCount))
		}
	}

	ConvertSC16Q11(out[:noutput], buf)
	s.stats.Quanta++
	s.stats.Samples += uint64(noutput)
	return noutput, nil
}

// abort ends the session on a fatal error. The module stays enabled until
// Stop or Close.
func (s *Source) abort(msg string, err error) error {
	s.state = Stopped
	s.log.Error(msg, logging.Err(err))
	return err
}

// grow makes room for n sample pairs. The buffer never shrinks; contents
// already present are preserved.
func (s *Source) grow(n int) error {
	if n <= s.Capacity() {
		return nil
	}
	if n > s.cfg.MaxBufferItems {
		return fatal(fmt.Errorf("%w: %d sample pairs requested, limit %d",
			ErrBufferExhausted, n, s.cfg.MaxBufferItems))
	}
	grown := make([]int16, 2*n)
	copy(grown, s.conv)
	s.conv = grown
	s.stats.Grows++
	s.log.Debug("conversion buffer grown", logging.F("capacity", n))
	return nil
}
