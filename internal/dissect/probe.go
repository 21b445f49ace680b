package dissect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultCapinfos is the metadata tool looked up on PATH.
const DefaultCapinfos = "capinfos"

// Capinfos reads capture start and end times from capinfos table output,
// which only scans record headers.
type Capinfos struct {
	Path string
}

// Probe runs `capinfos -T -r -S -a -e path` and parses the tab separated
// start and end columns.
func (c *Capinfos) Probe(ctx context.Context, path string) (Span, error) {
	bin := c.Path
	if bin == "" {
		bin = DefaultCapinfos
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "-T", "-r", "-S", "-a", "-e", path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Span{}, &ExitError{Tool: bin, Code: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}
		}
		return Span{}, fmt.Errorf("run %s: %w", bin, err)
	}
	return parseCapinfos(stdout.String())
}

func parseCapinfos(out string) (Span, error) {
	line := strings.TrimSpace(out)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	parts := strings.Split(strings.TrimRight(line, "\r"), "\t")
	if len(parts) < 3 {
		return Span{}, fmt.Errorf("capinfos: expected 3 columns, got %d", len(parts))
	}

	start, err := ParseEpoch(parts[len(parts)-2])
	if err != nil {
		return Span{}, fmt.Errorf("capinfos start: %w", err)
	}
	end, err := ParseEpoch(parts[len(parts)-1])
	if err != nil {
		return Span{}, fmt.Errorf("capinfos end: %w", err)
	}
	return Span{Start: start, End: end}, nil
}

// FirstPacket derives a span from the first packet timestamp reported by a
// Dissector. The end is unknown, so the span has zero duration.
type FirstPacket struct {
	Dissector Dissector
}

// FirstPacketQuery projects the timestamp of the first packet only.
var FirstPacketQuery = Query{Fields: []string{"frame.time_epoch"}, PacketLimit: 1}

// Probe returns Span{Start: t, End: t} for the first packet time t.
func (f *FirstPacket) Probe(ctx context.Context, path string) (Span, error) {
	var first string
	err := f.Dissector.Dissect(ctx, path, FirstPacketQuery, func(line string) error {
		if first == "" {
			first = strings.TrimSpace(line)
		}
		return nil
	})
	if err != nil {
		return Span{}, err
	}
	if first == "" {
		return Span{}, ErrNoPackets
	}
	t, err := ParseEpoch(first)
	if err != nil {
		return Span{}, err
	}
	return Span{Start: t, End: t}, nil
}

// Chain tries each prober in order and returns the first span obtained.
type Chain []SpanProber

// Probe returns the first successful span, or all failures joined.
func (c Chain) Probe(ctx context.Context, path string) (Span, error) {
	var errs []error
	for _, p := range c {
		span, err := p.Probe(ctx, path)
		if err == nil {
			return span, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Span{}, ctxErr
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Span{}, errors.New("no span probers configured")
	}
	return Span{}, errors.Join(errs...)
}
