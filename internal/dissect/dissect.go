// Package dissect wraps the external packet analysis tools. Field
// extraction is delegated to a Dissector; whole-file time bounds come from a
// SpanProber.
package dissect

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Query is a declarative field projection over one capture file.
type Query struct {
	// Filter is a display filter expression; empty selects every packet.
	Filter string
	// Fields are projected in order, one column per field.
	Fields []string
	// Separator joins the projected fields on each output line.
	Separator string
	// PacketLimit stops after this many packets when positive.
	PacketLimit int
}

// LineFunc receives one output line without its trailing newline.
// Returning an error stops the dissection and is returned to the caller.
type LineFunc func(line string) error

// Dissector runs a Query over a capture file and streams one line per
// matching packet, with empty strings for absent fields.
type Dissector interface {
	Dissect(ctx context.Context, path string, q Query, fn LineFunc) error
}

// ExitError reports a dissector process that exited with a status outside
// the accepted set.
type ExitError struct {
	Tool   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s exited with status %d: %s", e.Tool, e.Code, e.Stderr)
	}
	return fmt.Sprintf("%s exited with status %d", e.Tool, e.Code)
}

// Span is the time range covered by one capture file.
type Span struct {
	Start time.Time
	End   time.Time
}

// ErrNoPackets is returned by probers when a capture holds no packets.
var ErrNoPackets = errors.New("capture contains no packets")

// SpanProber returns the time range of a capture file.
type SpanProber interface {
	Probe(ctx context.Context, path string) (Span, error)
}

// ParseEpoch parses a decimal seconds-since-epoch string such as
// "1700000000.123456789" without losing sub-microsecond precision.
func ParseEpoch(text string) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, errors.New("empty timestamp")
	}

	secPart, fracPart, _ := strings.Cut(text, ".")
	if sec, nsec, ok := parseFixed(secPart, fracPart); ok {
		return time.Unix(sec, nsec).UTC(), nil
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", text, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, fmt.Errorf("parse timestamp %q: not finite", text)
	}
	whole, frac := math.Modf(f)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
}

func parseFixed(secPart, fracPart string) (int64, int64, bool) {
	if !allDigits(secPart) || (fracPart != "" && !allDigits(fracPart)) {
		return 0, 0, false
	}
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if len(fracPart) > 9 {
		fracPart = fracPart[:9]
	}
	var nsec int64
	if fracPart != "" {
		nsec, _ = strconv.ParseInt(fracPart+strings.Repeat("0", 9-len(fracPart)), 10, 64)
	}
	return sec, nsec, true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Seconds converts t to fractional seconds since the epoch.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
