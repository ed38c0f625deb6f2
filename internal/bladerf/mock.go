package bladerf

import "time"

// RXCall records one SyncRX invocation seen by a Mock.
type RXCall struct {
	Count   int
	Meta    *Metadata // copy of the descriptor as passed, nil when absent
	Timeout time.Duration
}

// Mock is a scripted Device for tests. Control calls behave like the
// simulator; SyncRX defers to RXFunc, or zero-fills and succeeds when unset.
type Mock struct {
	controls

	// RXFunc handles the n-th (zero based) SyncRX call after validation.
	RXFunc func(n int, buf []int16, count int, meta *Metadata) error
	// SkipValidation passes SyncRX straight to RXFunc, even before the
	// stream is configured.
	SkipValidation bool

	calls []RXCall
}

// NewMock builds a mock board of the given revision.
func NewMock(rev BoardRevision) *Mock {
	m := &Mock{}
	m.init("mock", rev)
	return m
}

func (m *Mock) SyncRX(buf []int16, count int, meta *Metadata, timeout time.Duration) error {
	m.mu.Lock()
	if !m.SkipValidation {
		if err := m.rxReady(buf, count, meta); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	call := RXCall{Count: count, Timeout: timeout}
	if meta != nil {
		cp := *meta
		call.Meta = &cp
	}
	n := len(m.calls)
	m.calls = append(m.calls, call)
	fn := m.RXFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(n, buf, count, meta)
	}
	clear(buf[:2*count])
	return nil
}

// RXCalls returns the SyncRX calls seen so far.
func (m *Mock) RXCalls() []RXCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RXCall(nil), m.calls...)
}

// Enabled reports whether ch was last enabled.
func (m *Mock) Enabled(ch Channel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[ch]
}

// StreamFormat returns the format and stream configuration of the last
// successful SyncConfig.
func (m *Mock) StreamFormat() (Format, StreamConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.format, m.stream, m.configured
}

// Closed reports whether Close has been called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// FailingRX returns an RXFunc that always fails with code.
func FailingRX(code Code) func(int, []int16, int, *Metadata) error {
	return func(int, []int16, int, *Metadata) error { return code }
}

// FillRX returns an RXFunc that writes v into every I and Q slot.
func FillRX(v int16) func(int, []int16, int, *Metadata) error {
	return func(_ int, buf []int16, count int, _ *Metadata) error {
		for i := range buf[:2*count] {
			buf[i] = v
		}
		return nil
	}
}
