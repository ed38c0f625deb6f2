package args

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	d := Parse(`bladerf=sim:0, sampling=external metadata buffers=64,SAMPLERATE=2M,,freq="915e6"`)
	want := map[string]string{
		"bladerf":    "sim:0",
		"sampling":   "external",
		"metadata":   "",
		"buffers":    "64",
		"samplerate": "2M",
		"freq":       "915e6",
	}
	if len(d) != len(want) {
		t.Fatalf("got %d keys, want %d: %#v", len(d), len(want), d)
	}
	for k, v := range want {
		if d[k] != v {
			t.Errorf("%s = %q, want %q", k, d[k], v)
		}
	}
}

func TestTypedAccessors(t *testing.T) {
	d := Parse("buffers=64 samplerate=2.5M metadata stream_timeout=500 bad=x")

	if n, err := d.Int("buffers", 0); err != nil || n != 64 {
		t.Fatalf("Int = %d, %v", n, err)
	}
	if n, err := d.Int("transfers", 32); err != nil || n != 32 {
		t.Fatalf("missing Int should return default, got %d, %v", n, err)
	}
	if _, err := d.Int("bad", 0); err == nil {
		t.Fatalf("expected error for non-integer")
	}
	if f, err := d.Float("samplerate", 0); err != nil || f != 2.5e6 {
		t.Fatalf("Float = %v, %v", f, err)
	}
	if b, err := d.Bool("metadata", false); err != nil || !b {
		t.Fatalf("bare key should be true, got %v, %v", b, err)
	}
	if ms, err := d.Millis("stream_timeout", time.Second); err != nil || ms != 500*time.Millisecond {
		t.Fatalf("Millis = %v, %v", ms, err)
	}
	if !d.Has("bad") || d.String("missing", "def") != "def" {
		t.Fatalf("Has/String misbehave")
	}
}
