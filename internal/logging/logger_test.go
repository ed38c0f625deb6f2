package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   Debug,
		"":        Info,
		"WARNING": Warn,
		" error ": Error,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestTextLoggerFiltersAndFormats(t *testing.T) {
	var buf bytes.Buffer
	l := New(Warn, Text, &buf).With(F("subsystem", "source"))
	l.Info("dropped")
	l.Warn("sync rx failed", F("streak", 2), Err(errors.New("Operation timed out")), Err(nil))

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info entry should be filtered: %q", out)
	}
	for _, want := range []string{"[WARN] source: sync rx failed", "streak=2", "error=Operation timed out"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	New(Debug, JSON, &buf).Debug("quantum", F("produced", 256))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if payload["msg"] != "quantum" || payload["level"] != "DEBUG" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload["produced"] != float64(256) {
		t.Fatalf("expected produced=256, got %#v", payload["produced"])
	}
}

func TestNopDropsEverything(t *testing.T) {
	if Nop().Enabled(Error) {
		t.Fatalf("nop logger must not be enabled")
	}
}

func TestForScopesSubsystem(t *testing.T) {
	var buf bytes.Buffer
	base := New(Info, Text, &buf)
	l := For(base, "bladerf")
	l.Info("device opened", F("serial", "abc"))
	For(l, "source").Warn("sync rx failed", Dur("timeout", 1500*time.Millisecond))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	if !strings.Contains(lines[0], "[INFO] bladerf: device opened serial=abc") {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if !strings.Contains(lines[1], "[WARN] source: sync rx failed timeout_ms=1500") || strings.Contains(lines[1], "bladerf") {
		t.Fatalf("subsystem should be replaced, got %q", lines[1])
	}
	if strings.Contains(buf.String(), SubsystemKey+"=") {
		t.Fatalf("subsystem should render as a prefix: %q", buf.String())
	}
}

func TestForJSONKeepsSubsystemField(t *testing.T) {
	var buf bytes.Buffer
	For(New(Debug, JSON, &buf), "flowgraph").Debug("quantum")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if payload[SubsystemKey] != "flowgraph" {
		t.Fatalf("unexpected payload %#v", payload)
	}
}

func TestForNilUsesDefault(t *testing.T) {
	var buf bytes.Buffer
	prev := Default()
	SetDefault(New(Info, Text, &buf))
	defer SetDefault(prev)

	For(nil, "announce").Info("registered")
	if !strings.Contains(buf.String(), "[INFO] announce: registered") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
