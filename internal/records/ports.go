package records

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PortTable maps a TCP/UDP port number to an application protocol label.
type PortTable map[string]string

// DefaultPortTable lists the OT protocols observed on the monitored network.
func DefaultPortTable() PortTable {
	return PortTable{
		"2404": "IEC 60870-5-104",
		"1883": "MQTT",
		"8883": "MQTT-TLS",
		"161":  "SNMP",
		"162":  "SNMP-Trap",
	}
}

// Label resolves the protocol label for a packet. The source port is
// consulted before the destination port; unmatched packets are labelled
// "<TRANSPORT>_Other".
func (t PortTable) Label(transport, srcPort, dstPort string) string {
	if l, ok := t[srcPort]; ok {
		return l
	}
	if l, ok := t[dstPort]; ok {
		return l
	}
	return transport + "_Other"
}

// Validate checks that every key is a valid port number.
func (t PortTable) Validate() error {
	for port, label := range t {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("invalid port %q", port)
		}
		if label == "" {
			return fmt.Errorf("empty label for port %s", port)
		}
	}
	return nil
}

// DefaultPacketFilter selects the OT traffic of DefaultPortTable: IEC 104
// and MQTT over TCP, SNMP over UDP.
const DefaultPacketFilter = "tcp.port in {2404, 1883, 8883} or udp.port in {161, 162}"

// Filter renders a tshark display filter matching the table's ports over
// either transport.
func (t PortTable) Filter() string {
	var ports []int
	for port := range t {
		if n, err := strconv.Atoi(port); err == nil {
			ports = append(ports, n)
		}
	}
	if len(ports) == 0 {
		return ""
	}
	sort.Ints(ports)
	set := joinInts(ports)
	return "tcp.port in {" + set + "} or udp.port in {" + set + "}"
}

func joinInts(ns []int) string {
	s := make([]string, len(ns))
	for i, n := range ns {
		s[i] = strconv.Itoa(n)
	}
	return strings.Join(s, ", ")
}
