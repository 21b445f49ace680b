package extract

import (
	"context"
	"strconv"
	"strings"

	"github.com/rsclarke/pcapflow/internal/anon"
	"github.com/rsclarke/pcapflow/internal/batch"
	"github.com/rsclarke/pcapflow/internal/dissect"
	"github.com/rsclarke/pcapflow/internal/records"
)

// PacketFields is the projection used by the packet extractor, in column order.
var PacketFields = []string{
	"frame.time_epoch",
	"ip.src",
	"ip.dst",
	"tcp.srcport",
	"udp.srcport",
	"tcp.dstport",
	"udp.dstport",
	"frame.len",
	"tcp.len",
	"udp.length",
	"tcp.flags",
}

// PacketQuery returns the dissector query used for packet extraction.
func PacketQuery(filter string) dissect.Query {
	if filter == "" {
		filter = records.DefaultPacketFilter
	}
	return dissect.Query{Filter: filter, Fields: PacketFields, Separator: ","}
}

// PacketExtractor produces anonymized per-packet metadata for TCP and UDP
// traffic.
type PacketExtractor struct {
	Dissector  dissect.Dissector
	Anonymizer *anon.Anonymizer
	Ports      records.PortTable
	Filter     string
}

// Extract runs the dissector over path and converts each packet line.
func (e *PacketExtractor) Extract(ctx context.Context, path string) batch.Outcome[records.PacketRecord] {
	out := batch.Outcome[records.PacketRecord]{File: path, Skipped: make(batch.SkipCounts)}

	err := e.Dissector.Dissect(ctx, path, PacketQuery(e.Filter), func(line string) error {
		rec, reason, ok := e.ParseLine(line)
		if !ok {
			out.Skipped.Add(reason, 1)
			return nil
		}
		out.Items = append(out.Items, rec)
		return nil
	})
	if err != nil {
		out.Err = err
		out.Items = nil
	}
	return out
}

// ParseLine converts one comma separated dissector line. Packets are
// classified as TCP when a TCP source port is present, otherwise UDP when a
// UDP source port is present; anything else is skipped.
func (e *PacketExtractor) ParseLine(line string) (records.PacketRecord, batch.SkipReason, bool) {
	cols := strings.Split(strings.TrimRight(line, "\r\n"), ",")
	if len(cols) != len(PacketFields) {
		return records.PacketRecord{}, batch.SkipWidth, false
	}

	ts, src, dst := cols[0], cols[1], cols[2]
	tcpSport, udpSport, tcpDport, udpDport := cols[3], cols[4], cols[5], cols[6]
	frameLen, tcpLen, udpLen, tcpFlags := cols[7], cols[8], cols[9], cols[10]

	var (
		sport, dport, transport string
		payload                 int
		flags                   uint8
	)
	switch {
	case tcpSport != "":
		sport, dport, transport = tcpSport, tcpDport, "TCP"
		if tcpLen != "" {
			n, err := strconv.Atoi(tcpLen)
			if err != nil {
				return records.PacketRecord{}, batch.SkipBadInt, false
			}
			payload = n
		}
		flags = records.ParseTCPFlags(tcpFlags)
	case udpSport != "":
		sport, dport, transport = udpSport, udpDport, "UDP"
		if udpLen != "" {
			n, err := strconv.Atoi(udpLen)
			if err != nil {
				return records.PacketRecord{}, batch.SkipBadInt, false
			}
			payload = records.UDPPayloadLen(n)
		}
	default:
		return records.PacketRecord{}, batch.SkipNoTransport, false
	}

	return records.PacketRecord{
		TimestampEpoch: ts,
		SrcAnonymized:  e.Anonymizer.Anonymize(src),
		DstAnonymized:  e.Anonymizer.Anonymize(dst),
		SrcPort:        sport,
		DstPort:        dport,
		Protocol:       e.Ports.Label(transport, sport, dport),
		PayloadBytes:   payload,
		TotalLen:       frameLen,
		Flags:          records.DecodeFlags(flags),
	}, "", true
}
