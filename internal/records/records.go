// Package records defines the CSV record variants produced by the
// extraction pipelines and the derived-field helpers they rely on.
package records

import (
	"strconv"
	"strings"
)

// Row is implemented by every record variant written to a CSV sink.
type Row interface {
	CSVRow() []string
}

// MQTTHeader is the column layout of the MQTT telemetry dataset.
var MQTTHeader = []string{
	"Timestamp_Device", "Timestamp_Capture", "Station_Label",
	"Asset_ID", "Measurement_Type", "Value", "Quality_Bit", "Signal_ID",
}

// PacketHeader is the column layout of the network-packet dataset.
var PacketHeader = []string{
	"Timestamp_Epoch", "Src_IP_Anonymized", "Dst_IP_Anonymized",
	"Src_Port", "Dst_Port", "Protocol_Label", "Payload_Bytes", "Total_Packet_Len",
	"SYN", "RST", "FIN", "PSH", "ACK",
}

// MQTTRecord is one decoded MQTT publish message.
type MQTTRecord struct {
	TimestampDevice  string
	TimestampCapture string
	StationLabel     string
	AssetID          string
	MeasurementType  string
	Value            string
	QualityBit       string
	SignalID         string
}

// CSVRow returns the record in MQTTHeader order.
func (r MQTTRecord) CSVRow() []string {
	return []string{
		r.TimestampDevice, r.TimestampCapture, r.StationLabel,
		r.AssetID, r.MeasurementType, r.Value, r.QualityBit, r.SignalID,
	}
}

// PacketRecord is one anonymized TCP or UDP packet.
type PacketRecord struct {
	TimestampEpoch string
	SrcAnonymized  string
	DstAnonymized  string
	SrcPort        string
	DstPort        string
	Protocol       string
	PayloadBytes   int
	TotalLen       string
	Flags          Flags
}

// CSVRow returns the record in PacketHeader order.
func (r PacketRecord) CSVRow() []string {
	return []string{
		r.TimestampEpoch, r.SrcAnonymized, r.DstAnonymized,
		r.SrcPort, r.DstPort, r.Protocol,
		strconv.Itoa(r.PayloadBytes), r.TotalLen,
		bit(r.Flags.SYN), bit(r.Flags.RST), bit(r.Flags.FIN), bit(r.Flags.PSH), bit(r.Flags.ACK),
	}
}

func bit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Unknown is used for topic parts that cannot be derived.
const Unknown = "Unknown"

// ParseTopic splits a slash-delimited MQTT topic into its asset path and
// measurement type. Topics with fewer than five segments are not structured
// and yield Unknown for both.
func ParseTopic(topic string) (asset, measure string) {
	parts := strings.Split(topic, "/")
	if len(parts) < 5 {
		return Unknown, Unknown
	}
	return strings.Join(parts[2:len(parts)-1], "/"), parts[len(parts)-1]
}

// UDPHeaderLen is subtracted from the reported UDP length to get the payload size.
const UDPHeaderLen = 8

// UDPPayloadLen returns the payload size for a UDP length field, never negative.
func UDPPayloadLen(udpLen int) int {
	if udpLen < UDPHeaderLen {
		return 0
	}
	return udpLen - UDPHeaderLen
}
