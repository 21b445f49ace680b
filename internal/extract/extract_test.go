package extract

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/rsclarke/pcapflow/internal/anon"
	"github.com/rsclarke/pcapflow/internal/batch"
	"github.com/rsclarke/pcapflow/internal/dissect"
	"github.com/rsclarke/pcapflow/internal/records"
)

func hexColon(s string) string {
	h := hex.EncodeToString([]byte(s))
	var b strings.Builder
	for i := 0; i < len(h); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(h[i : i+2])
	}
	return b.String()
}

func mqttLine(ts, topic, payload string) string {
	return ts + "|" + topic + "|" + hexColon(payload)
}

func TestParseMQTTLine(t *testing.T) {
	const topic = "grid/s2/feeder1/breaker3/P"

	tests := []struct {
		name    string
		line    string
		want    records.MQTTRecord
		wantOK  bool
		wantWhy batch.SkipReason
	}{
		{
			name: "full payload",
			line: mqttLine("1700000000.5", topic, `{"v":12.75,"q":0,"t":"2023-11-14T22:13:20Z","id":"sig-9"}`),
			want: records.MQTTRecord{
				TimestampDevice: "2023-11-14T22:13:20Z", TimestampCapture: "1700000000.5", StationLabel: "S2",
				AssetID: "feeder1/breaker3", MeasurementType: "P", Value: "12.75", QualityBit: "0", SignalID: "sig-9",
			},
			wantOK: true,
		},
		{
			name: "missing keys",
			line: mqttLine("1700000001.0", "a/b/c", `{"v":"on"}`),
			want: records.MQTTRecord{
				TimestampDevice: "1700000001.0", TimestampCapture: "1700000001.0", StationLabel: "S2",
				AssetID: "Unknown", MeasurementType: "Unknown", Value: "on",
			},
			wantOK: true,
		},
		{
			name: "zero device time falls back",
			line: mqttLine("5.0", topic, `{"v":1,"t":0}`),
			want: records.MQTTRecord{
				TimestampDevice: "5.0", TimestampCapture: "5.0", StationLabel: "S2",
				AssetID: "feeder1/breaker3", MeasurementType: "P", Value: "1",
			},
			wantOK: true,
		},
		{
			name: "null value is empty",
			line: mqttLine("5.0", topic, `{"v":null,"id":7}`),
			want: records.MQTTRecord{
				TimestampDevice: "5.0", TimestampCapture: "5.0", StationLabel: "S2",
				AssetID: "feeder1/breaker3", MeasurementType: "P", SignalID: "7",
			},
			wantOK: true,
		},
		{
			name: "plain hex",
			line: "9.0|" + topic + "|" + hex.EncodeToString([]byte(`{"v":[1, 2]}`)),
			want: records.MQTTRecord{
				TimestampDevice: "9.0", TimestampCapture: "9.0", StationLabel: "S2",
				AssetID: "feeder1/breaker3", MeasurementType: "P", Value: "[1,2]",
			},
			wantOK: true,
		},
		{
			name: "nan value",
			line: mqttLine("5.0", topic, `{"v": NaN, "q": 0, "t": 1700000000, "id": "s1"}`),
			want: records.MQTTRecord{
				TimestampDevice: "1700000000", TimestampCapture: "5.0", StationLabel: "S2",
				AssetID: "feeder1/breaker3", MeasurementType: "P", Value: "nan", QualityBit: "0", SignalID: "s1",
			},
			wantOK: true,
		},
		{
			name: "infinite values",
			line: mqttLine("5.0", topic, `{"v":-Infinity,"q":Infinity}`),
			want: records.MQTTRecord{
				TimestampDevice: "5.0", TimestampCapture: "5.0", StationLabel: "S2",
				AssetID: "feeder1/breaker3", MeasurementType: "P", Value: "-inf", QualityBit: "inf",
			},
			wantOK: true,
		},
		{
			name: "nan inside a string is untouched",
			line: mqttLine("5.0", topic, `{"v":"NaN \"Infinity\""}`),
			want: records.MQTTRecord{
				TimestampDevice: "5.0", TimestampCapture: "5.0", StationLabel: "S2",
				AssetID: "feeder1/breaker3", MeasurementType: "P", Value: `NaN "Infinity"`,
			},
			wantOK: true,
		},
		{
			name: "string zero device time is kept",
			line: mqttLine("5.0", topic, `{"v":1,"t":"0"}`),
			want: records.MQTTRecord{
				TimestampDevice: "0", TimestampCapture: "5.0", StationLabel: "S2",
				AssetID: "feeder1/breaker3", MeasurementType: "P", Value: "1",
			},
			wantOK: true,
		},
		{
			name: "empty object device time falls back",
			line: mqttLine("5.0", topic, `{"v":1,"t":{}}`),
			want: records.MQTTRecord{
				TimestampDevice: "5.0", TimestampCapture: "5.0", StationLabel: "S2",
				AssetID: "feeder1/breaker3", MeasurementType: "P", Value: "1",
			},
			wantOK: true,
		},
		{
			name: "empty array and false device times fall back",
			line: mqttLine("5.0", topic, `{"v":[],"t":[],"q":false}`),
			want: records.MQTTRecord{
				TimestampDevice: "5.0", TimestampCapture: "5.0", StationLabel: "S2",
				AssetID: "feeder1/breaker3", MeasurementType: "P", Value: "[]", QualityBit: "false",
			},
			wantOK: true,
		},
		{
			name: "trailing whitespace",
			line: mqttLine("5.0", topic, "{\"v\":2}\n "),
			want: records.MQTTRecord{
				TimestampDevice: "5.0", TimestampCapture: "5.0", StationLabel: "S2",
				AssetID: "feeder1/breaker3", MeasurementType: "P", Value: "2",
			},
			wantOK: true,
		},
		{name: "extra closing brace", line: mqttLine("1.0", topic, `{"v": 1}}`), wantWhy: batch.SkipBadJSON},
		{name: "extra closing bracket", line: mqttLine("1.0", topic, `{"v": 1}]`), wantWhy: batch.SkipBadJSON},
		{name: "bare nan payload", line: mqttLine("1.0", topic, `NaN`), wantWhy: batch.SkipBadJSON},
		{name: "too few fields", line: "1.0|topic", wantWhy: batch.SkipWidth},
		{name: "bad hex", line: "1.0|" + topic + "|zz:zz", wantWhy: batch.SkipBadHex},
		{name: "not utf8", line: "1.0|" + topic + "|ff:fe:fd", wantWhy: batch.SkipBadUTF8},
		{name: "not json", line: mqttLine("1.0", topic, "hello"), wantWhy: batch.SkipBadJSON},
		{name: "json array", line: mqttLine("1.0", topic, "[1,2,3]"), wantWhy: batch.SkipBadJSON},
		{name: "json null", line: mqttLine("1.0", topic, "null"), wantWhy: batch.SkipBadJSON},
		{name: "trailing data", line: mqttLine("1.0", topic, `{"v":1}{"v":2}`), wantWhy: batch.SkipBadJSON},
		{name: "empty payload", line: "1.0|" + topic + "|", wantWhy: batch.SkipBadJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, why, ok := ParseMQTTLine(tt.line, "S2")
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (reason %q)", ok, tt.wantOK, why)
			}
			if !ok {
				if why != tt.wantWhy {
					t.Errorf("reason = %q, want %q", why, tt.wantWhy)
				}
				return
			}
			if got != tt.want {
				t.Errorf("record = %+v\nwant     %+v", got, tt.want)
			}
		})
	}
}

func TestParseMQTTLineValueMatchesKey(t *testing.T) {
	values := []string{`"text"`, `42`, `-1.5e3`, `true`, `"with,comma"`, `"  spaced  "`}
	plain := []string{"text", "42", "-1.5e3", "true", "with,comma", "  spaced  "}

	for i, v := range values {
		line := mqttLine("1.0", "a/b/c/d/e", `{"v":`+v+`}`)
		rec, why, ok := ParseMQTTLine(line, "S1")
		if !ok {
			t.Fatalf("value %s skipped: %s", v, why)
		}
		if rec.Value != plain[i] {
			t.Errorf("Value for %s = %q, want %q", v, rec.Value, plain[i])
		}
	}
}

func TestMQTTExtractor(t *testing.T) {
	fake := &dissect.Fake{
		Lines: map[string][]string{
			"a.pcap": {
				mqttLine("1.0", "x/y/asset/sub/T", `{"v":20.5}`),
				"garbage",
				mqttLine("2.0", "x/y/asset/sub/T", `{"v":21.0}`),
			},
		},
		Errs: map[string]error{"broken.pcap": errors.New("tshark: file is truncated")},
	}
	ex := &MQTTExtractor{Dissector: fake, Station: "S4"}

	out := ex.Extract(context.Background(), "a.pcap")
	if out.Err != nil {
		t.Fatalf("Extract error: %v", out.Err)
	}
	if len(out.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(out.Items))
	}
	if out.Items[1].Value != "21.0" || out.Items[0].StationLabel != "S4" {
		t.Errorf("unexpected records: %+v", out.Items)
	}
	if out.Skipped[batch.SkipWidth] != 1 {
		t.Errorf("skipped = %v, want one width skip", out.Skipped)
	}

	failed := ex.Extract(context.Background(), "broken.pcap")
	if failed.Err == nil || len(failed.Items) != 0 {
		t.Errorf("broken file outcome = %+v, want error and no items", failed)
	}

	q := fake.Queries()[0]
	if q.Filter != DefaultMQTTFilter || q.Separator != "|" || len(q.Fields) != 3 {
		t.Errorf("query = %+v", q)
	}
}

func newPacketExtractor(t *testing.T, fake *dissect.Fake) *PacketExtractor {
	t.Helper()
	a, err := anon.New("test-salt")
	if err != nil {
		t.Fatalf("anon.New: %v", err)
	}
	return &PacketExtractor{Dissector: fake, Anonymizer: a, Ports: records.DefaultPortTable()}
}

func TestPacketParseLine(t *testing.T) {
	ex := newPacketExtractor(t, nil)
	src := ex.Anonymizer.Anonymize("10.0.0.5")
	dst := ex.Anonymizer.Anonymize("10.0.0.9")

	tests := []struct {
		name    string
		line    string
		want    []string
		wantWhy batch.SkipReason
	}{
		{
			name: "tcp syn to iec104",
			line: "1700000000.1,10.0.0.5,10.0.0.9,50123,,2404,,74,0,,0x0002",
			want: []string{"1700000000.1", src, dst, "50123", "2404", "IEC 60870-5-104", "0", "74", "1", "0", "0", "0", "0"},
		},
		{
			name: "tcp psh ack decimal flags",
			line: "1.0,10.0.0.5,10.0.0.9,1883,,40000,,120,54,,24",
			want: []string{"1.0", src, dst, "1883", "40000", "MQTT", "54", "120", "0", "0", "0", "1", "1"},
		},
		{
			name: "tcp other with bad flags",
			line: "1.0,10.0.0.5,10.0.0.9,443,,40000,,60,,,bogus",
			want: []string{"1.0", src, dst, "443", "40000", "TCP_Other", "0", "60", "0", "0", "0", "0", "0"},
		},
		{
			name: "udp snmp",
			line: "2.0,10.0.0.5,10.0.0.9,,40000,,161,90,,56,",
			want: []string{"2.0", src, dst, "40000", "161", "SNMP", "48", "90", "0", "0", "0", "0", "0"},
		},
		{
			name: "udp short length",
			line: "2.0,10.0.0.5,10.0.0.9,,162,,5000,50,,4,",
			want: []string{"2.0", src, dst, "162", "5000", "SNMP-Trap", "0", "50", "0", "0", "0", "0", "0"},
		},
		{
			name: "missing addresses",
			line: "3.0,,,,53,,53,50,,20,",
			want: []string{"3.0", anon.Unknown, anon.Unknown, "53", "53", "UDP_Other", "12", "50", "0", "0", "0", "0", "0"},
		},
		{name: "no transport", line: "3.0,10.0.0.5,10.0.0.9,,,,,60,,,", wantWhy: batch.SkipNoTransport},
		{name: "short line", line: "3.0,10.0.0.5", wantWhy: batch.SkipWidth},
		{name: "long line", line: "1,2,3,4,5,6,7,8,9,10,11,12", wantWhy: batch.SkipWidth},
		{name: "bad udp length", line: "3.0,10.0.0.5,10.0.0.9,,161,,162,60,,x,", wantWhy: batch.SkipBadInt},
		{name: "bad tcp length", line: "3.0,10.0.0.5,10.0.0.9,2404,,1,,60,x,,0x10", wantWhy: batch.SkipBadInt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, why, ok := ex.ParseLine(tt.line)
			if tt.want == nil {
				if ok || why != tt.wantWhy {
					t.Fatalf("ParseLine = ok %v reason %q, want skip %q", ok, why, tt.wantWhy)
				}
				return
			}
			if !ok {
				t.Fatalf("line skipped: %s", why)
			}
			if got := strings.Join(rec.CSVRow(), ","); got != strings.Join(tt.want, ",") {
				t.Errorf("row = %s\nwant  %s", got, strings.Join(tt.want, ","))
			}
		})
	}
}

func TestPacketExtractorNeverLeaksAddresses(t *testing.T) {
	fake := &dissect.Fake{Lines: map[string][]string{
		"a.pcap": {
			"1.0,192.168.1.10,10.1.2.3,2404,,50000,,80,14,,0x18",
			"2.0,172.16.0.1,192.168.1.10,,161,,40000,90,,40,",
		},
	}}
	ex := newPacketExtractor(t, fake)

	out := ex.Extract(context.Background(), "a.pcap")
	if out.Err != nil || len(out.Items) != 2 {
		t.Fatalf("outcome = %+v", out)
	}
	for _, rec := range out.Items {
		for _, addr := range []string{rec.SrcAnonymized, rec.DstAnonymized} {
			if !strings.HasPrefix(addr, anon.Prefix) {
				t.Errorf("address column %q is not anonymized", addr)
			}
		}
	}

	q := fake.Queries()[0]
	if q.Filter != records.DefaultPacketFilter || len(q.Fields) != 11 {
		t.Errorf("query = %+v", q)
	}
}

func TestPacketExtractorFileFailure(t *testing.T) {
	fake := &dissect.Fake{}
	ex := newPacketExtractor(t, fake)

	out := ex.Extract(context.Background(), "missing.pcap")
	if out.Err == nil {
		t.Fatal("missing file produced no error")
	}
	if len(out.Items) != 0 {
		t.Errorf("failed file returned %d items", len(out.Items))
	}
}
