package audit

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
)

// HeaderLine is the first line written to a report before the scan starts.
func HeaderLine(csvPath string) string {
	return fmt.Sprintf("--- AUDIT REPORT FOR %s ---", csvPath)
}

// Render formats the outcome of Run. A non-nil err yields a single
// CRITICAL FAIL line; otherwise the final results block is returned.
func Render(acc Accumulator, err error) string {
	if err != nil {
		var leak *LeakError
		if errors.As(err, &leak) {
			return fmt.Sprintf("CRITICAL FAIL: Real IPs detected in rows %s to %s!",
				humanize.Comma(leak.FromRow), humanize.Comma(leak.ToRow))
		}
		return fmt.Sprintf("CRITICAL FAIL: %v", err)
	}

	var b strings.Builder
	b.WriteString("--- FINAL RESULTS ---\n")
	fmt.Fprintf(&b, "Total Packets Processed: %s\n", humanize.Comma(acc.TotalRows))
	b.WriteString("Protocol Distribution:\n")
	for _, pc := range acc.Histogram() {
		fmt.Fprintf(&b, "  - %s: %s\n", pc.Protocol, humanize.Comma(pc.Count))
	}
	fmt.Fprintf(&b, "Total SYN Flags: %s\n", humanize.Comma(acc.SYN))
	fmt.Fprintf(&b, "Total RST Flags: %s\n", humanize.Comma(acc.RST))
	if acc.SYN > 0 {
		b.WriteString("PASS: Connection flags present.\n")
	} else {
		b.WriteString("WARNING: No SYN flags found.\n")
	}
	b.WriteString("PASS: No Privacy Leaks Detected.\n")
	b.WriteString("--- END OF REPORT ---")
	return b.String()
}

// WriteReport writes the header line followed by the rendered outcome.
func WriteReport(w io.Writer, csvPath string, acc Accumulator, err error) error {
	_, werr := fmt.Fprintf(w, "%s\n%s\n", HeaderLine(csvPath), Render(acc, err))
	return werr
}
