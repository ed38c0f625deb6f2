// Package args parses driver argument strings of the form
// "bladerf=0,sampling=internal buffers=64".
package args

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dict holds parsed key=value pairs. Keys without a value map to "".
type Dict map[string]string

// Parse splits s on commas and whitespace. Later keys override earlier ones.
func Parse(s string) Dict {
	d := Dict{}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	for _, f := range fields {
		key, val, _ := strings.Cut(f, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		d[key] = strings.Trim(strings.TrimSpace(val), `"'`)
	}
	return d
}

// Has reports whether key is present.
func (d Dict) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// String returns the value for key or def.
func (d Dict) String(key, def string) string {
	if v, ok := d[key]; ok {
		return v
	}
	return def
}

// Int parses key as an integer. Missing keys return def and no error.
func (d Dict) Int(key string, def int) (int, error) {
	v, ok := d[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}

// Float parses key as a float; engineering suffixes k, M and G are accepted.
func (d Dict) Float(key string, def float64) (float64, error) {
	v, ok := d[key]
	if !ok {
		return def, nil
	}
	mult := 1.0
	switch {
	case strings.HasSuffix(v, "k"), strings.HasSuffix(v, "K"):
		mult, v = 1e3, v[:len(v)-1]
	case strings.HasSuffix(v, "M"):
		mult, v = 1e6, v[:len(v)-1]
	case strings.HasSuffix(v, "G"):
		mult, v = 1e9, v[:len(v)-1]
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not a number", key, d[key])
	}
	return f * mult, nil
}

// Bool parses key as a boolean. A bare key ("metadata") means true.
func (d Dict) Bool(key string, def bool) (bool, error) {
	v, ok := d[key]
	if !ok {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "", "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return def, fmt.Errorf("%s: %q is not a boolean", key, v)
}

// Millis parses key as a duration in milliseconds.
func (d Dict) Millis(key string, def time.Duration) (time.Duration, error) {
	v, ok := d[key]
	if !ok {
		return def, nil
	}
	ms, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not a millisecond count", key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
