// Package sample turns WireGuard status dumps into per-peer samples.
package sample

import (
	"bufio"
	"math"
	"strconv"
	"strings"
	"time"
)

// Sample is one peer's point-in-time telemetry.
type Sample struct {
	Interface  string
	PublicKey  string
	Endpoint   string
	AllowedIPs string

	// LastHandshake is the epoch second of the latest handshake, 0 if none.
	LastHandshake int64
	// ConnectedHours is the age of the latest handshake in hours, rounded to
	// two decimals. Negative when the handshake lies in the future.
	ConnectedHours float64

	RxBytes int64
	TxBytes int64
}

// Field order of a `wg show all dump` peer line.
const (
	fieldInterface = iota
	fieldPublicKey
	fieldPresharedKey
	fieldEndpoint
	fieldAllowedIPs
	fieldHandshake
	fieldRx
	fieldTx
)

// interfaceLineFields is the field count of the per-interface header line
// in `wg show all dump` (interface, private key, public key, port, fwmark).
const interfaceLineFields = 5

// ParseLine parses one tab-separated peer line. It returns false for lines
// without a public key and for interface header lines.
func ParseLine(line string, now time.Time) (Sample, bool) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Split(line, "\t")
	if len(fields) == interfaceLineFields {
		return Sample{}, false
	}

	field := func(i int) string {
		if i >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[i])
	}

	publicKey := field(fieldPublicKey)
	if publicKey == "" {
		return Sample{}, false
	}

	handshake := parseInt(field(fieldHandshake))
	return Sample{
		Interface:      field(fieldInterface),
		PublicKey:      publicKey,
		Endpoint:       noneToEmpty(field(fieldEndpoint)),
		AllowedIPs:     noneToEmpty(field(fieldAllowedIPs)),
		LastHandshake:  handshake,
		ConnectedHours: ConnectedHours(handshake, now),
		RxBytes:        parseCounter(field(fieldRx)),
		TxBytes:        parseCounter(field(fieldTx)),
	}, true
}

// ParseDump parses every line of a `wg show all dump` output.
func ParseDump(text string, now time.Time) []Sample {
	var samples []Sample
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		if s, ok := ParseLine(scanner.Text(), now); ok {
			samples = append(samples, s)
		}
	}
	return samples
}

// maxHandshakeSec is the largest handshake time whose millisecond value
// fits in an int64.
const maxHandshakeSec = math.MaxInt64 / 1000

// ConnectedHours returns hours elapsed since handshakeSec, rounded to two
// decimals, or 0 if the peer never completed a handshake. Negative or
// unrepresentable handshake times also yield 0.
func ConnectedHours(handshakeSec int64, now time.Time) float64 {
	if handshakeSec <= 0 || handshakeSec > maxHandshakeSec {
		return 0
	}
	ms := now.UnixMilli() - handshakeSec*1000
	return math.Round(float64(ms)/float64(time.Hour/time.Millisecond)*100) / 100
}

func parseInt(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseCounter(s string) int64 {
	v := parseInt(s)
	if v < 0 {
		return 0
	}
	return v
}

func noneToEmpty(s string) string {
	if s == "(none)" {
		return ""
	}
	return s
}
