// Package identity maps WireGuard peer public keys to human-readable names
// taken from comment annotations in a server configuration file.
package identity

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// UnknownName is shown for peers without a name annotation.
const UnknownName = "Unknown"

// userComment matches a "# User: <name>" annotation.
var userComment = regexp.MustCompile(`(?i)^#\s*User:\s*(.+)$`)

// Parse extracts key -> name pairs from WireGuard config text. Inside each
// [Peer] section the first "# User: <name>" comment after the PublicKey line
// names the peer; other comments are ignored. Keys with no annotation are
// left out.
func Parse(text string) map[string]string {
	names := make(map[string]string)

	var (
		inPeer  bool
		pending string
	)
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "["):
			inPeer = strings.EqualFold(line, "[Peer]")
			pending = ""
		case strings.HasPrefix(line, "#"):
			if pending == "" {
				continue
			}
			if name := annotation(line); name != "" {
				names[pending] = name
				pending = ""
			}
		case inPeer:
			key, value, ok := strings.Cut(line, "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(key), "PublicKey") {
				continue
			}
			// Keys are base64 and may end in '=', so only the first '=' separates.
			pending = strings.TrimSpace(value)
		}
	}
	return names
}

func annotation(line string) string {
	m := userComment.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// Resolver loads names from a config file, caching the parsed result.
type Resolver struct {
	path   string
	cache  *ttlcache.Cache[string, map[string]string]
	logger *slog.Logger
}

// NewResolver returns a Resolver reading path. Parsed maps are kept for ttl;
// a zero ttl disables caching.
func NewResolver(path string, ttl time.Duration, logger *slog.Logger) *Resolver {
	r := &Resolver{path: path, logger: logger}
	if ttl > 0 {
		r.cache = ttlcache.New[string, map[string]string](
			ttlcache.WithTTL[string, map[string]string](ttl),
			ttlcache.WithDisableTouchOnHit[string, map[string]string](),
		)
	}
	return r
}

// Names returns the current key -> name mapping. An unreadable source
// yields an empty map so collection can proceed with unknown names.
func (r *Resolver) Names(ctx context.Context) map[string]string {
	if r.cache != nil {
		if item := r.cache.Get(r.path); item != nil {
			return item.Value()
		}
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		r.logger.WarnContext(ctx, "identity: config unreadable, peer names unavailable", "path", r.path, "err", err)
		return map[string]string{}
	}
	names := Parse(string(data))
	r.logger.DebugContext(ctx, "identity: names loaded", "path", r.path, "count", len(names))

	if r.cache != nil {
		r.cache.Set(r.path, names, ttlcache.DefaultTTL)
	}
	return names
}

// Invalidate drops the cached mapping so the next call re-reads the file.
func (r *Resolver) Invalidate() {
	if r.cache != nil {
		r.cache.Delete(r.path)
	}
}

// Lookup returns the name for publicKey, or UnknownName.
func Lookup(names map[string]string, publicKey string) string {
	if name, ok := names[publicKey]; ok && name != "" {
		return name
	}
	return UnknownName
}
