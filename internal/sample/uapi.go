package sample

import (
	"bufio"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// uapiPeer accumulates the fields of one peer block in a UAPI reply.
type uapiPeer struct {
	publicKeyHex     string
	endpoint         string
	allowedIPs       []string
	lastHandshakeSec int64
	rxBytes          int64
	txBytes          int64
}

// ParseUAPI parses the reply to a WireGuard UAPI "get=1" request for iface.
// Keys are converted from hex to the base64 form used by wg(8).
func ParseUAPI(iface, text string, now time.Time) []Sample {
	var peers []uapiPeer
	var current *uapiPeer

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "public_key":
			if current != nil {
				peers = append(peers, *current)
			}
			current = &uapiPeer{publicKeyHex: value}
		case "endpoint":
			if current != nil {
				current.endpoint = value
			}
		case "allowed_ip":
			if current != nil {
				current.allowedIPs = append(current.allowedIPs, value)
			}
		case "last_handshake_time_sec":
			if current != nil {
				current.lastHandshakeSec, _ = strconv.ParseInt(value, 10, 64)
			}
		case "rx_bytes":
			if current != nil {
				current.rxBytes, _ = strconv.ParseInt(value, 10, 64)
			}
		case "tx_bytes":
			if current != nil {
				current.txBytes, _ = strconv.ParseInt(value, 10, 64)
			}
		}
	}
	if current != nil {
		peers = append(peers, *current)
	}

	samples := make([]Sample, 0, len(peers))
	for _, p := range peers {
		pub := hexToBase64(p.publicKeyHex)
		if pub == "" {
			continue
		}
		samples = append(samples, Sample{
			Interface:      iface,
			PublicKey:      pub,
			Endpoint:       p.endpoint,
			AllowedIPs:     strings.Join(p.allowedIPs, ","),
			LastHandshake:  p.lastHandshakeSec,
			ConnectedHours: ConnectedHours(p.lastHandshakeSec, now),
			RxBytes:        max(p.rxBytes, 0),
			TxBytes:        max(p.txBytes, 0),
		})
	}
	return samples
}

func hexToBase64(hexStr string) string {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return hexStr
	}
	return base64.StdEncoding.EncodeToString(raw)
}
