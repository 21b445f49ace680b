package dissect

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
)

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// NativeReader reads capture timestamps directly from pcap or pcapng
// record headers without invoking an external tool.
type NativeReader struct{}

// Probe scans every record header in path and returns the earliest and
// latest timestamps, so out-of-order records and interleaved pcapng
// interfaces give the same span capinfos reports. A capture that is cut short still yields the span of the
// records read before the truncation.
func (NativeReader) Probe(ctx context.Context, path string) (Span, error) {
	f, err := os.Open(path)
	if err != nil {
		return Span{}, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 256*1024)
	src, err := openSource(br)
	if err != nil {
		return Span{}, err
	}

	var (
		span  Span
		count int
	)
	for {
		if count%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return Span{}, err
			}
		}
		_, ci, err := src.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			if count > 0 && errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return Span{}, fmt.Errorf("read record %d: %w", count+1, err)
		}
		ts := ci.Timestamp.UTC()
		if count == 0 || ts.Before(span.Start) {
			span.Start = ts
		}
		if count == 0 || ts.After(span.End) {
			span.End = ts
		}
		count++
	}

	if count == 0 {
		return Span{}, ErrNoPackets
	}
	return span, nil
}

func openSource(br *bufio.Reader) (gopacket.PacketDataSource, error) {
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}
	if string(magic) == string(pcapngMagic) {
		r, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("pcapng header: %w", err)
		}
		return r, nil
	}
	r, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("pcap header: %w", err)
	}
	return r, nil
}
