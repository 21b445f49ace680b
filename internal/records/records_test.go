package records

import (
	"reflect"
	"strconv"
	"testing"
)

func TestParseTopic(t *testing.T) {
	tests := []struct {
		name        string
		topic       string
		wantAsset   string
		wantMeasure string
	}{
		{"five segments", "site/s2/feeder1/breaker/P", "feeder1/breaker", "P"},
		{"long", "a/b/c/d/e/f/g", "c/d/e/f", "g"},
		{"minimum", "a/b/c/d/e", "c/d", "e"},
		{"four segments", "a/b/c/d", Unknown, Unknown},
		{"empty", "", Unknown, Unknown},
		{"empty segments", "////", "/", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asset, measure := ParseTopic(tt.topic)
			if asset != tt.wantAsset || measure != tt.wantMeasure {
				t.Errorf("ParseTopic(%q) = (%q, %q), want (%q, %q)",
					tt.topic, asset, measure, tt.wantAsset, tt.wantMeasure)
			}
		})
	}
}

func TestUDPPayloadLen(t *testing.T) {
	for n := -3; n < 8; n++ {
		if got := UDPPayloadLen(n); got != 0 {
			t.Errorf("UDPPayloadLen(%d) = %d, want 0", n, got)
		}
	}
	for n := 8; n < 2000; n += 37 {
		if got := UDPPayloadLen(n); got != n-8 {
			t.Errorf("UDPPayloadLen(%d) = %d, want %d", n, got, n-8)
		}
	}
}

func TestDecodeFlagsAllBytes(t *testing.T) {
	for i := 0; i <= 255; i++ {
		f := DecodeFlags(uint8(i))
		if f.FIN != (i&0x01 != 0) || f.SYN != (i&0x02 != 0) || f.RST != (i&0x04 != 0) ||
			f.PSH != (i&0x08 != 0) || f.ACK != (i&0x10 != 0) {
			t.Fatalf("DecodeFlags(%#x) = %+v", i, f)
		}
	}
}

func TestParseTCPFlags(t *testing.T) {
	tests := []struct {
		in   string
		want uint8
	}{
		{"0x0012", 0x12},
		{"0x02", 0x02},
		{"0X18", 0x18},
		{"18", 18},
		{"", 0},
		{"garbage", 0},
		{"0xzz", 0},
		{"-4", 0},
		{" 0x0011 ", 0x11},
	}

	for _, tt := range tests {
		if got := ParseTCPFlags(tt.in); got != tt.want {
			t.Errorf("ParseTCPFlags(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func TestParseTCPFlagsRoundTrip(t *testing.T) {
	for i := 0; i <= 255; i++ {
		hex := "0x" + strconv.FormatInt(int64(i), 16)
		if got := ParseTCPFlags(hex); got != uint8(i) {
			t.Fatalf("ParseTCPFlags(%q) = %d, want %d", hex, got, i)
		}
		if got := ParseTCPFlags(strconv.Itoa(i)); got != uint8(i) {
			t.Fatalf("ParseTCPFlags(%d) = %d, want %d", i, got, i)
		}
	}
}

func TestPortTableLabel(t *testing.T) {
	ports := DefaultPortTable()

	tests := []struct {
		transport, sport, dport, want string
	}{
		{"TCP", "2404", "50000", "IEC 60870-5-104"},
		{"TCP", "50000", "1883", "MQTT"},
		{"TCP", "8883", "1883", "MQTT-TLS"},
		{"UDP", "40000", "161", "SNMP"},
		{"UDP", "162", "40000", "SNMP-Trap"},
		{"TCP", "443", "50000", "TCP_Other"},
		{"UDP", "53", "53", "UDP_Other"},
	}

	for _, tt := range tests {
		if got := ports.Label(tt.transport, tt.sport, tt.dport); got != tt.want {
			t.Errorf("Label(%s, %s, %s) = %q, want %q", tt.transport, tt.sport, tt.dport, got, tt.want)
		}
	}
}

func TestPortTableValidate(t *testing.T) {
	if err := DefaultPortTable().Validate(); err != nil {
		t.Fatalf("default table invalid: %v", err)
	}
	bad := []PortTable{
		{"http": "HTTP"},
		{"0": "Zero"},
		{"70000": "Big"},
		{"502": ""},
	}
	for _, pt := range bad {
		if err := pt.Validate(); err == nil {
			t.Errorf("Validate(%v) succeeded, want error", pt)
		}
	}
}

func TestPortTableFilter(t *testing.T) {
	pt := PortTable{"502": "Modbus", "2404": "IEC 60870-5-104"}
	want := "tcp.port in {502, 2404} or udp.port in {502, 2404}"
	if got := pt.Filter(); got != want {
		t.Errorf("Filter() = %q, want %q", got, want)
	}
	if got := (PortTable{}).Filter(); got != "" {
		t.Errorf("empty Filter() = %q, want empty", got)
	}
}

func TestCSVRowsMatchHeaders(t *testing.T) {
	m := MQTTRecord{"1", "2", "S2", "a/b", "P", "3.5", "0", "id7"}
	if got := m.CSVRow(); len(got) != len(MQTTHeader) {
		t.Fatalf("MQTT row width %d, header width %d", len(got), len(MQTTHeader))
	}

	p := PacketRecord{
		TimestampEpoch: "1700000000.5",
		SrcAnonymized:  "Node_abcdef",
		DstAnonymized:  "Node_123456",
		SrcPort:        "50000",
		DstPort:        "2404",
		Protocol:       "IEC 60870-5-104",
		PayloadBytes:   14,
		TotalLen:       "68",
		Flags:          DecodeFlags(FlagSYN | FlagACK),
	}
	want := []string{"1700000000.5", "Node_abcdef", "Node_123456", "50000", "2404",
		"IEC 60870-5-104", "14", "68", "1", "0", "0", "0", "1"}
	if got := p.CSVRow(); !reflect.DeepEqual(got, want) {
		t.Errorf("PacketRecord.CSVRow() = %v, want %v", got, want)
	}
	if len(want) != len(PacketHeader) {
		t.Fatalf("packet header width %d", len(PacketHeader))
	}
}
