package dissect

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"slices"
	"strings"
)

// DefaultTShark is the analyzer binary looked up on PATH.
const DefaultTShark = "tshark"

// TShark runs the tshark command line analyzer as one subprocess per call.
type TShark struct {
	// Path to the tshark binary.
	Path string
	// AllowedExitCodes lists exit statuses treated as success. Defaults to {0}.
	AllowedExitCodes []int
}

// Args builds the tshark argument list for a query.
func (t *TShark) Args(path string, q Query) []string {
	sep := q.Separator
	if sep == "" {
		sep = ","
	}

	args := []string{"-n", "-r", path}
	if q.PacketLimit > 0 {
		args = append(args, "-c", fmt.Sprint(q.PacketLimit))
	}
	if q.Filter != "" {
		args = append(args, "-Y", q.Filter)
	}
	args = append(args, "-T", "fields", "-E", "separator="+sep, "-E", "occurrence=f")
	for _, f := range q.Fields {
		args = append(args, "-e", f)
	}
	return args
}

// Dissect runs tshark over path and streams its stdout to fn. The process
// is always waited on before returning, including when fn fails or ctx is
// cancelled.
func (t *TShark) Dissect(ctx context.Context, path string, q Query, fn LineFunc) (err error) {
	bin := t.Path
	if bin == "" {
		bin = DefaultTShark
	}

	cmd := exec.CommandContext(ctx, bin, t.Args(path, q)...)
	stderr := &tailBuffer{max: 512}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", bin, err)
	}

	readErr := readLines(stdout, fn)
	if readErr != nil {
		// Unblock the child if it is still writing.
		_ = cmd.Process.Kill()
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	if readErr != nil {
		return readErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			if t.allowed(exitErr.ExitCode()) {
				return nil
			}
			return &ExitError{Tool: bin, Code: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return fmt.Errorf("wait %s: %w", bin, waitErr)
	}
	return nil
}

func (t *TShark) allowed(code int) bool {
	if len(t.AllowedExitCodes) == 0 {
		return code == 0
	}
	return slices.Contains(t.AllowedExitCodes, code)
}

func readLines(r io.Reader, fn LineFunc) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimRight(line, "\r\n")
			if ferr := fn(line); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read output: %w", err)
		}
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return strings.TrimSpace(string(b.buf))
}
