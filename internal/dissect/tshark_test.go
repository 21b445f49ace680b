//go:build !windows

package dissect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tshark")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestTSharkDissectStreamsOutput(t *testing.T) {
	bin := writeScript(t, "printf '1|a\\n2|b\\n'\n")
	ts := &TShark{Path: bin}

	var got []string
	err := ts.Dissect(context.Background(), "x.pcap", Query{Separator: "|"}, func(line string) error {
		got = append(got, line)
		return nil
	})
	if err != nil {
		t.Fatalf("Dissect: %v", err)
	}
	if want := []string{"1|a", "2|b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("lines = %v, want %v", got, want)
	}
}

func TestTSharkDissectExitStatus(t *testing.T) {
	bin := writeScript(t, "echo 'appears to have been cut short' >&2\necho 1\nexit 2\n")

	strict := &TShark{Path: bin}
	err := strict.Dissect(context.Background(), "x.pcap", Query{}, func(string) error { return nil })
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if exitErr.Code != 2 || exitErr.Stderr != "appears to have been cut short" {
		t.Errorf("exit error = %+v", exitErr)
	}

	lenient := &TShark{Path: bin, AllowedExitCodes: []int{0, 2}}
	if err := lenient.Dissect(context.Background(), "x.pcap", Query{}, func(string) error { return nil }); err != nil {
		t.Errorf("allowed exit code returned %v", err)
	}
}

func TestTSharkDissectMissingBinary(t *testing.T) {
	ts := &TShark{Path: filepath.Join(t.TempDir(), "no-such-tshark")}
	if err := ts.Dissect(context.Background(), "x.pcap", Query{}, func(string) error { return nil }); err == nil {
		t.Fatal("missing binary succeeded, want error")
	}
}

func TestTSharkDissectCallbackErrorReapsProcess(t *testing.T) {
	bin := writeScript(t, "while true; do echo line; done\n")
	ts := &TShark{Path: bin}

	stop := errors.New("stop")
	err := ts.Dissect(context.Background(), "x.pcap", Query{}, func(string) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("err = %v, want stop", err)
	}
}

func TestCapinfosProbe(t *testing.T) {
	bin := writeScript(t, "printf '%s\\t1700000000.000001\\t1700000010.5\\n' \"$6\"\n")
	c := &Capinfos{Path: bin}

	span, err := c.Probe(context.Background(), "x.pcap")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if got, want := span.End.Sub(span.Start), 10499999*time.Microsecond; got != want {
		t.Errorf("duration = %v, want %v", got, want)
	}
}
