package bladerf

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/UbhaSecurity/gr-osmosdr/internal/logging"
)

// OpenFunc opens the device named by ident within a backend.
type OpenFunc func(ident string) (Device, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]OpenFunc{}
)

// ErrUnknownBackend is returned for selectors naming an unregistered
// backend. Opening is not retried.
var ErrUnknownBackend = errors.New("unknown backend")

// DefaultBackend serves selectors that do not name a backend.
const DefaultBackend = "sim"

// RegisterBackend makes a backend available to selectors of the form
// "<name>" or "<name>:<ident>".
func RegisterBackend(name string, open OpenFunc) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = open
}

// Backends lists the registered backend names.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterBackend("sim", func(ident string) (Device, error) {
		rev := Rev1
		if ident == "rev2" || strings.HasPrefix(ident, "bladerf2") {
			rev = Rev2
		}
		serial := ident
		if serial == "" {
			serial = "sim0"
		}
		sim := NewSim(serial, rev)
		sim.Realtime = true
		return sim, nil
	})
}

// ParseSelector splits a device selector into backend and identifier. A
// bare identifier ("0", a serial) goes to DefaultBackend.
func ParseSelector(sel string) (backend, ident string) {
	sel = strings.TrimSpace(sel)
	if name, rest, ok := strings.Cut(sel, ":"); ok {
		return name, rest
	}
	backendsMu.RLock()
	_, known := backends[sel]
	backendsMu.RUnlock()
	if known {
		return sel, ""
	}
	return DefaultBackend, sel
}

// OpenSelector opens a device through the registered backends.
func OpenSelector(sel string) (Device, error) {
	name, ident := ParseSelector(sel)
	backendsMu.RLock()
	open, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("bladerf: %w %q: %w", ErrUnknownBackend, name, ErrNoDev)
	}
	return open(ident)
}

// Handle is a reference-counted device shared by the sessions of one
// physical board. Control-path calls are serialized through Control; the
// data path is reached through Stream without locking.
type Handle struct {
	mu  sync.Mutex
	dev Device
	key string
	reg *Registry
}

// Control runs fn with exclusive access to the control path.
func (h *Handle) Control(fn func(Device) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h.dev)
}

// Stream returns the device for data-path calls.
func (h *Handle) Stream() Device { return h.dev }

// Key is the selector the handle was acquired with.
func (h *Handle) Key() string { return h.key }

// Release drops one reference; the last one closes the device.
func (h *Handle) Release() error { return h.reg.release(h) }

// Registry hands out shared Handles keyed by selector.
type Registry struct {
	// Open opens a device; defaults to OpenSelector.
	Open OpenFunc
	// Retries is how many extra open attempts are made before giving up.
	// Zero means a single attempt.
	Retries uint64
	// RetryInterval is the first backoff delay between attempts.
	RetryInterval time.Duration
	Logger        logging.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	refs    map[*Handle]int
	opening map[string]*pendingOpen
}

// pendingOpen lets concurrent Acquire calls for one selector wait on a
// single open without holding the registry lock.
type pendingOpen struct {
	done chan struct{}
	err  error
}

// DefaultRegistry is shared by every session in the process.
var DefaultRegistry = &Registry{Retries: 3, RetryInterval: 250 * time.Millisecond}

// Acquire returns the handle for sel, opening the device on first use. The
// registry lock is not held while the device opens, so other selectors are
// not held up by a slow or retrying open.
func (r *Registry) Acquire(sel string) (*Handle, error) {
	key := strings.TrimSpace(sel)
	for {
		r.mu.Lock()
		if r.handles == nil {
			r.handles = make(map[string]*Handle)
			r.refs = make(map[*Handle]int)
			r.opening = make(map[string]*pendingOpen)
		}
		if h, ok := r.handles[key]; ok {
			r.refs[h]++
			r.mu.Unlock()
			return h, nil
		}
		if p, ok := r.opening[key]; ok {
			r.mu.Unlock()
			<-p.done
			if p.err != nil {
				return nil, p.err
			}
			continue
		}
		p := &pendingOpen{done: make(chan struct{})}
		r.opening[key] = p
		r.mu.Unlock()

		dev, err := r.openWithRetry(key)

		r.mu.Lock()
		delete(r.opening, key)
		var h *Handle
		if err == nil {
			h = &Handle{dev: dev, key: key, reg: r}
			r.handles[key] = h
			r.refs[h] = 1
		}
		p.err = err
		r.mu.Unlock()
		close(p.done)
		return h, err
	}
}

// Refs reports how many sessions hold the handle for sel.
func (r *Registry) Refs(sel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[strings.TrimSpace(sel)]
	if !ok {
		return 0
	}
	return r.refs[h]
}

func (r *Registry) release(h *Handle) error {
	r.mu.Lock()
	n, ok := r.refs[h]
	if !ok {
		r.mu.Unlock()
		return errors.New("bladerf: handle already released")
	}
	if n > 1 {
		r.refs[h] = n - 1
		r.mu.Unlock()
		return nil
	}
	delete(r.refs, h)
	delete(r.handles, h.key)
	r.mu.Unlock()

	return h.Control(func(d Device) error { return d.Close() })
}

// openWithRetry retries transient open failures (a board re-enumerating on
// the bus) with exponential backoff.
func (r *Registry) openWithRetry(sel string) (Device, error) {
	open := r.Open
	if open == nil {
		open = OpenSelector
	}
	log := logging.For(r.Logger, "bladerf").With(logging.F("selector", sel))

	b := backoff.NewExponentialBackOff()
	if r.RetryInterval > 0 {
		b.InitialInterval = r.RetryInterval
		b.MaxInterval = 8 * r.RetryInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if r.Retries > 0 {
		policy = backoff.WithMaxRetries(b, r.Retries)
	}

	var dev Device
	op := func() error {
		d, err := open(sel)
		if errors.Is(err, ErrUnknownBackend) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		dev = d
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("device open failed, retrying", logging.Err(err), logging.Dur("wait", wait))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, fmt.Errorf("bladerf: open %q: %w", sel, err)
	}
	log.Debug("device opened", logging.F("serial", dev.Serial()), logging.F("board", dev.BoardRevision()))
	return dev, nil
}
