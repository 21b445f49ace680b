// Package extract turns dissector output for one capture file into typed
// records. Each extractor is stateless across files and safe for
// concurrent use by the batch workers.
package extract

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rsclarke/pcapflow/internal/batch"
	"github.com/rsclarke/pcapflow/internal/dissect"
	"github.com/rsclarke/pcapflow/internal/records"
)

// DefaultMQTTFilter keeps only packets carrying an MQTT message body.
const DefaultMQTTFilter = "mqtt.msg"

// MQTTQuery returns the dissector query used for MQTT extraction.
func MQTTQuery(filter string) dissect.Query {
	if filter == "" {
		filter = DefaultMQTTFilter
	}
	return dissect.Query{
		Filter:    filter,
		Fields:    []string{"frame.time_epoch", "mqtt.topic", "mqtt.msg"},
		Separator: "|",
	}
}

// MQTTExtractor decodes JSON telemetry published over MQTT.
type MQTTExtractor struct {
	Dissector dissect.Dissector
	// Station is written to every record's Station_Label column.
	Station string
	Filter  string
}

// Extract runs the dissector over path and decodes each message.
func (e *MQTTExtractor) Extract(ctx context.Context, path string) batch.Outcome[records.MQTTRecord] {
	out := batch.Outcome[records.MQTTRecord]{File: path, Skipped: make(batch.SkipCounts)}

	err := e.Dissector.Dissect(ctx, path, MQTTQuery(e.Filter), func(line string) error {
		rec, reason, ok := ParseMQTTLine(line, e.Station)
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

// ParseMQTTLine decodes one "time|topic|hexpayload" line. The payload must
// be hex encoded UTF-8 JSON describing an object; anything else is skipped
// with the reason returned.
func ParseMQTTLine(line, station string) (records.MQTTRecord, batch.SkipReason, bool) {
	parts := strings.Split(strings.TrimSpace(line), "|")
	if len(parts) < 3 {
		return records.MQTTRecord{}, batch.SkipWidth, false
	}

	tsCapture := parts[0]
	topic := parts[1]
	payloadHex := strings.ReplaceAll(parts[2], ":", "")

	raw, err := hex.DecodeString(payloadHex)
	if err != nil {
		return records.MQTTRecord{}, batch.SkipBadHex, false
	}
	if !utf8.Valid(raw) {
		return records.MQTTRecord{}, batch.SkipBadUTF8, false
	}

	obj, ok := decodeObject(raw)
	if !ok {
		return records.MQTTRecord{}, batch.SkipBadJSON, false
	}

	tsDevice := field(obj, "t")
	if !present(obj, "t") {
		tsDevice = tsCapture
	}

	asset, measure := records.ParseTopic(topic)
	return records.MQTTRecord{
		TimestampDevice:  tsDevice,
		TimestampCapture: tsCapture,
		StationLabel:     station,
		AssetID:          asset,
		MeasurementType:  measure,
		Value:            field(obj, "v"),
		QualityBit:       field(obj, "q"),
		SignalID:         field(obj, "id"),
	}, "", true
}

func decodeObject(raw []byte) (map[string]json.RawMessage, bool) {
	dec := json.NewDecoder(bytes.NewReader(quoteNonFinite(raw)))
	var obj map[string]json.RawMessage
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	// Anything but whitespace after the object is not a single document.
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, false
	}
	return obj, true
}

// nonFinite maps the bare float literals Python publishers emit to the
// text Python writes for them.
var nonFinite = []struct{ literal, text string }{
	{"-Infinity", `"-inf"`},
	{"Infinity", `"inf"`},
	{"NaN", `"nan"`},
}

// quoteNonFinite rewrites NaN, Infinity and -Infinity outside strings into
// JSON strings so encoding/json accepts the document.
func quoteNonFinite(raw []byte) []byte {
	if !bytes.Contains(raw, []byte("NaN")) && !bytes.Contains(raw, []byte("Infinity")) {
		return raw
	}
	out := make([]byte, 0, len(raw)+8)
	inString, escaped := false, false
outer:
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			out = append(out, c)
			continue
		}
		if c == '"' {
			inString = true
			out = append(out, c)
			continue
		}
		for _, nf := range nonFinite {
			if bytes.HasPrefix(raw[i:], []byte(nf.literal)) {
				out = append(out, nf.text...)
				i += len(nf.literal) - 1
				continue outer
			}
		}
		out = append(out, c)
	}
	return out
}

// field renders the value at key as CSV text: strings unquoted, numbers in
// their literal form, null and absent keys as "", composite values as
// compact JSON.
func field(obj map[string]json.RawMessage, key string) string {
	raw, ok := obj[key]
	if !ok {
		return ""
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return string(raw)
		}
		return buf.String()
	default:
		return string(raw)
	}
}

// present reports whether key holds a usable device timestamp. Absent keys,
// null, false, numeric zero, empty strings and empty composites fall back
// to the capture time. Any other value is kept as written, "0" included.
func present(obj map[string]json.RawMessage, key string) bool {
	raw, ok := obj[key]
	if !ok {
		return false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch raw[0] {
	case '"':
		var s string
		return json.Unmarshal(raw, &s) == nil && s != ""
	case '{':
		var m map[string]json.RawMessage
		return json.Unmarshal(raw, &m) == nil && len(m) > 0
	case '[':
		var a []json.RawMessage
		return json.Unmarshal(raw, &a) == nil && len(a) > 0
	}
	switch string(raw) {
	case "null", "false":
		return false
	}
	if f, err := strconv.ParseFloat(string(raw), 64); err == nil && f == 0 {
		return false
	}
	return true
}
