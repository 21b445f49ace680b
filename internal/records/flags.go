package records

import (
	"strconv"
	"strings"
)

// TCP flag bits.
const (
	FlagFIN uint8 = 0x01
	FlagSYN uint8 = 0x02
	FlagRST uint8 = 0x04
	FlagPSH uint8 = 0x08
	FlagACK uint8 = 0x10
)

// Flags holds the decoded TCP control bits carried in a packet record.
type Flags struct {
	SYN, RST, FIN, PSH, ACK bool
}

// DecodeFlags extracts the individual flags from a flag byte.
func DecodeFlags(v uint8) Flags {
	return Flags{
		SYN: v&FlagSYN != 0,
		RST: v&FlagRST != 0,
		FIN: v&FlagFIN != 0,
		PSH: v&FlagPSH != 0,
		ACK: v&FlagACK != 0,
	}
}

// ParseTCPFlags parses the textual tcp.flags field, which tshark renders as
// "0x0012" but older versions and exports render in decimal. Anything that
// does not parse yields 0. Only the low byte is kept; the NS bit is not
// part of any record.
func ParseTCPFlags(text string) uint8 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	var (
		v   uint64
		err error
	)
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		v, err = strconv.ParseUint(text[2:], 16, 16)
	} else {
		v, err = strconv.ParseUint(text, 10, 16)
	}
	if err != nil {
		return 0
	}
	return uint8(v)
}
