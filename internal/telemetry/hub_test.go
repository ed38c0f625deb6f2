package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/UbhaSecurity/gr-osmosdr/internal/logging"
)

func newTestHub() *Hub {
	return NewHub(10, logging.New(logging.Debug, logging.Text, io.Discard))
}

func TestHubHistoryIsBounded(t *testing.T) {
	hub := NewHub(3, logging.Nop())
	for i := 1; i <= 5; i++ {
		hub.Report(Sample{Quanta: uint64(i)})
	}
	hist := hub.History()
	if len(hist) != 3 || hist[0].Quanta != 3 || hist[2].Quanta != 5 {
		t.Fatalf("unexpected history %+v", hist)
	}
	if hist[0].Timestamp.IsZero() {
		t.Fatalf("timestamp should be filled in")
	}
}

func TestHandleHistory(t *testing.T) {
	hub := newTestHub()
	hub.Report(Sample{State: "started", Samples: 4096, PeakBin: 3})

	rr := httptest.NewRecorder()
	hub.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp []Sample
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].Samples != 4096 || resp[0].PeakBin != 3 {
		t.Fatalf("unexpected history %+v", resp)
	}
}

func TestHandleConfigUpdate(t *testing.T) {
	hub := newTestHub()
	for i := 0; i < 10; i++ {
		hub.Report(Sample{})
	}

	cases := []struct {
		name   string
		method string
		body   string
		code   int
	}{
		{"wrong method", http.MethodGet, `{}`, http.StatusMethodNotAllowed},
		{"bad json", http.MethodPost, `{`, http.StatusBadRequest},
		{"not power of two", http.MethodPost, `{"spectrumSize":1000}`, http.StatusBadRequest},
		{"history too large", http.MethodPost, `{"historyLimit":20000}`, http.StatusBadRequest},
		{"shrink history", http.MethodPost, `{"historyLimit":4}`, http.StatusOK},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(tc.method, "/api/config/update", strings.NewReader(tc.body))
		hub.Handler().ServeHTTP(rr, req)
		if rr.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d (%s)", tc.name, tc.code, rr.Code, rr.Body.String())
		}
	}

	cfg := hub.ConfigSnapshot()
	if cfg.HistoryLimit != 4 || cfg.SpectrumSize != defaultConfig().SpectrumSize {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(hub.History()) != 4 {
		t.Fatalf("history not trimmed to new limit, got %d", len(hub.History()))
	}

	rr := httptest.NewRecorder()
	hub.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	var got Config
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil || got != cfg {
		t.Fatalf("GET /api/config = %+v, %v", got, err)
	}
}

func TestHandleSpectrumSnapshot(t *testing.T) {
	hub := newTestHub()
	bins := []float64{-1, -2, -3}
	hub.UpdateSpectrum(bins, 915e6, 2e6)
	bins[0] = 100

	rr := httptest.NewRecorder()
	hub.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/spectrum", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp SpectrumSnapshot
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Bins) != 3 || resp.Bins[0] != -1 || resp.CenterHz != 915e6 {
		t.Fatalf("unexpected snapshot %+v", resp)
	}

	rr = httptest.NewRecorder()
	hub.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/spectrum", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestHealthFollowsLatestSample(t *testing.T) {
	hub := newTestHub()
	steps := []struct {
		sample *Sample
		want   string
	}{
		{nil, "waiting"},
		{&Sample{State: "started"}, "ok"},
		{&Sample{State: "started", Streak: 2}, "degraded"},
		{&Sample{State: "stopped", Streak: 3}, "stopped"},
	}
	for _, step := range steps {
		if step.sample != nil {
			hub.Report(*step.sample)
		}
		rr := httptest.NewRecorder()
		hub.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		var resp Health
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Status != step.want {
			t.Fatalf("status = %q, want %q", resp.Status, step.want)
		}
	}
}

func TestLiveStreamsHistoryThenUpdates(t *testing.T) {
	hub := newTestHub()
	hub.Report(Sample{Quanta: 1})

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/live", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/live: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	next := func() Sample {
		t.Helper()
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				t.Fatalf("read event: %v", err)
			}
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			var s Sample
			if err := json.Unmarshal(bytes.TrimSpace(line[len("data: "):]), &s); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			return s
		}
	}

	if s := next(); s.Quanta != 1 {
		t.Fatalf("expected history replay first, got %+v", s)
	}
	// the subscription is registered before the replay is flushed
	hub.Report(Sample{Quanta: 2})
	if s := next(); s.Quanta != 2 {
		t.Fatalf("expected live sample, got %+v", s)
	}
}

func TestMultiReporterAndStdout(t *testing.T) {
	var buf bytes.Buffer
	hub := newTestHub()
	multi := MultiReporter{hub, nil, NewStdoutReporter(logging.New(logging.Info, logging.Text, &buf))}
	multi.Report(Sample{State: "started", Samples: 10, PeakBin: -1, Streak: 1})

	if len(hub.History()) != 1 {
		t.Fatalf("hub did not receive the sample")
	}
	out := buf.String()
	if !strings.Contains(out, "[WARN] telemetry: stream sample") || !strings.Contains(out, "streak=1") {
		t.Fatalf("unexpected log output %q", out)
	}
	if strings.Contains(out, "peak_hz") {
		t.Fatalf("peak fields should be omitted without a spectrum: %q", out)
	}
}

func TestWebServerServesUntilCanceled(t *testing.T) {
	hub := newTestHub()
	web := NewWebServer("127.0.0.1:0", hub, logging.Nop())
	ln, port, err := web.Listen()
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if port == 0 {
		t.Fatalf("expected a bound port")
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		web.Serve(ctx, ln)
		close(done)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not shut down")
	}
}
