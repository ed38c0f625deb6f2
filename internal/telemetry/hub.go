package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/UbhaSecurity/gr-osmosdr/internal/logging"
)

// Config represents the runtime configuration exposed by the telemetry hub.
// Every field is guarded by the hub's RWMutex.
type Config struct {
	HistoryLimit   int `json:"historyLimit"`
	ReportInterval int `json:"reportInterval"`
	SpectrumSize   int `json:"spectrumSize"`
}

const (
	minHistoryLimit   = 1
	maxHistoryLimit   = 10_000
	minReportInterval = 1
	maxReportInterval = 1_000_000
	minSpectrumSize   = 16
	maxSpectrumSize   = 1 << 16
)

func defaultConfig() Config {
	return Config{
		HistoryLimit:   500,
		ReportInterval: 64,
		SpectrumSize:   1024,
	}
}

func validateConfig(cfg Config, base Config) (Config, error) {
	if base.HistoryLimit == 0 || base.ReportInterval == 0 || base.SpectrumSize == 0 {
		base = defaultConfig()
	}

	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = base.HistoryLimit
	}
	if cfg.ReportInterval == 0 {
		cfg.ReportInterval = base.ReportInterval
	}
	if cfg.SpectrumSize == 0 {
		cfg.SpectrumSize = base.SpectrumSize
	}

	if cfg.HistoryLimit < minHistoryLimit || cfg.HistoryLimit > maxHistoryLimit {
		return Config{}, fmt.Errorf("history limit must be between %d and %d", minHistoryLimit, maxHistoryLimit)
	}
	if cfg.ReportInterval < minReportInterval || cfg.ReportInterval > maxReportInterval {
		return Config{}, fmt.Errorf("report interval must be between %d and %d quanta", minReportInterval, maxReportInterval)
	}
	if cfg.SpectrumSize < minSpectrumSize || cfg.SpectrumSize > maxSpectrumSize {
		return Config{}, fmt.Errorf("spectrum size must be between %d and %d", minSpectrumSize, maxSpectrumSize)
	}
	if cfg.SpectrumSize&(cfg.SpectrumSize-1) != 0 {
		return Config{}, fmt.Errorf("spectrum size must be a power of two")
	}

	return cfg, nil
}

// Sample captures the stream state after one reported quantum.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	State     string    `json:"state"`
	Quanta    uint64    `json:"quanta"`
	Produced  int       `json:"produced"`
	Samples   uint64    `json:"samples"`
	Failures  uint64    `json:"failures"`
	Streak    int       `json:"streak"`
	Capacity  int       `json:"capacity"`
	Overruns  uint64    `json:"overruns"`
	DCI       float64   `json:"dcI"`
	DCQ       float64   `json:"dcQ"`
	RMSDBFS   float64   `json:"rmsDbfs"`
	Clipped   int       `json:"clipped"`
	PeakDBFS  float64   `json:"peakDbfs"`
	PeakBin   int       `json:"peakBin"`
	PeakHz    float64   `json:"peakHz"`
}

// SpectrumSnapshot is the most recent DC-centred power spectrum.
type SpectrumSnapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	CenterHz   float64   `json:"centerHz"`
	SampleRate float64   `json:"sampleRate"`
	Bins       []float64 `json:"bins"`
}

// Hub collects history and fan-outs telemetry updates to subscribers.
type Hub struct {
	mu           sync.RWMutex
	history      []Sample
	historyLimit int
	subscribers  map[chan Sample]struct{}
	config       Config
	spectrum     SpectrumSnapshot
	started      time.Time
	logger       logging.Logger
}

// NewHub builds a telemetry hub with the provided history limit.
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	cfg := defaultConfig()
	if historyLimit > 0 {
		cfg.HistoryLimit = historyLimit
	}
	cfg, err := validateConfig(cfg, defaultConfig())
	if err != nil {
		cfg = defaultConfig()
	}
	return &Hub{
		historyLimit: cfg.HistoryLimit,
		subscribers:  make(map[chan Sample]struct{}),
		config:       cfg,
		started:      time.Now(),
		logger:       logging.For(logger, "telemetry"),
	}
}

// Report implements Reporter and records a new telemetry sample.
func (h *Hub) Report(sample Sample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	h.mu.Lock()
	h.history = append(h.history, sample)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- sample:
		default:
		}
	}
	h.mu.Unlock()
}

// UpdateSpectrum replaces the spectrum snapshot.
func (h *Hub) UpdateSpectrum(bins []float64, centerHz, sampleRate float64) {
	snap := SpectrumSnapshot{
		Timestamp:  time.Now(),
		CenterHz:   centerHz,
		SampleRate: sampleRate,
		Bins:       append([]float64(nil), bins...),
	}
	h.mu.Lock()
	h.spectrum = snap
	h.mu.Unlock()
}

// Spectrum returns the latest spectrum snapshot.
func (h *Hub) Spectrum() SpectrumSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	snap := h.spectrum
	snap.Bins = append([]float64(nil), h.spectrum.Bins...)
	return snap
}

// History returns a copy of stored telemetry samples.
func (h *Hub) History() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Sample, len(h.history))
	copy(out, h.history)
	return out
}

// ConfigSnapshot returns the latest validated configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// UpdateConfig validates cfg against the current configuration and applies it.
// Zero fields keep their current value.
func (h *Hub) UpdateConfig(cfg Config) (Config, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	next, err := validateConfig(cfg, h.config)
	if err != nil {
		return Config{}, err
	}
	h.applyConfig(next)
	return next, nil
}

// Subscribe registers a listener for live updates.
func (h *Hub) Subscribe() (chan Sample, func()) {
	ch := make(chan Sample, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// MultiReporter fans out telemetry to multiple destinations.
type MultiReporter []Reporter

// Report forwards telemetry to each configured reporter.
func (m MultiReporter) Report(sample Sample) {
	for _, r := range m {
		if r != nil {
			r.Report(sample)
		}
	}
}

func (h *Hub) applyConfig(cfg Config) {
	h.config = cfg
	h.historyLimit = cfg.HistoryLimit
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
}

func (h *Hub) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.History())
}

func (h *Hub) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.ConfigSnapshot())
}

func (h *Hub) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var incoming Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
		return
	}

	cfg, err := h.UpdateConfig(incoming)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.logger.Info("telemetry config updated",
		logging.F("history_limit", cfg.HistoryLimit),
		logging.F("report_interval", cfg.ReportInterval),
		logging.F("spectrum_size", cfg.SpectrumSize))
	writeJSON(w, cfg)
}

func (h *Hub) handleSpectrum(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.Spectrum())
}

// Health summarizes whether the stream is still delivering.
type Health struct {
	Status  string  `json:"status"`
	Uptime  float64 `json:"uptimeSeconds"`
	Latest  *Sample `json:"latest,omitempty"`
	Reports int     `json:"reports"`
}

func (h *Hub) health() Health {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := Health{Status: "waiting", Uptime: time.Since(h.started).Seconds(), Reports: len(h.history)}
	if len(h.history) == 0 {
		return out
	}
	latest := h.history[len(h.history)-1]
	out.Latest = &latest
	switch {
	case latest.State == "stopped":
		out.Status = "stopped"
	case latest.Streak > 0:
		out.Status = "degraded"
	default:
		out.Status = "ok"
	}
	return out
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.health())
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	// send existing history for immediate display
	for _, sample := range h.History() {
		writeEvent(w, sample)
	}
	flusher.Flush()

	for {
		select {
		case sample, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, sample)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, sample Sample) {
	payload, err := json.Marshal(sample)
	if err != nil {
		return
	}
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
