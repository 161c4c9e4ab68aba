package geoip

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/oschwald/maxminddb-golang/v2"
)

// countryRecord is a minimal struct for fast MMDB decoding.
type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// DB is a GeoIP country database. A nil *DB is valid and resolves nothing.
type DB struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	reader *maxminddb.Reader
}

// Open loads the MMDB file at path.
func Open(path string, logger *slog.Logger) (*DB, error) {
	db := &DB{path: path, logger: logger}
	if err := db.Reload(); err != nil {
		return nil, err
	}
	return db, nil
}

// Reload re-reads the database file, keeping the old reader on failure.
func (db *DB) Reload() error {
	reader, err := maxminddb.Open(db.path)
	if err != nil {
		return fmt.Errorf("geoip: open %s: %w", db.path, err)
	}

	db.mu.Lock()
	old := db.reader
	db.reader = reader
	db.mu.Unlock()

	if old != nil {
		old.Close()
	}
	db.logger.Info("geoip: database loaded", "path", db.path, "type", reader.Metadata.DatabaseType)
	return nil
}

// LookupCountry returns the ISO country code for addr, or "" if unknown.
func (db *DB) LookupCountry(addr netip.Addr) string {
	if db == nil || !addr.IsValid() {
		return ""
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	var record countryRecord
	if err := db.reader.Lookup(addr.Unmap()).Decode(&record); err != nil {
		return ""
	}
	return record.Country.ISOCode
}

// EndpointCountry resolves the country of a peer endpoint such as
// "192.0.2.7:51820" or "[2001:db8::1]:51820".
func (db *DB) EndpointCountry(endpoint string) string {
	if db == nil {
		return ""
	}
	addr, ok := EndpointAddr(endpoint)
	if !ok {
		return ""
	}
	return db.LookupCountry(addr)
}

// EndpointAddr extracts the IP address from a WireGuard endpoint string.
func EndpointAddr(endpoint string) (netip.Addr, bool) {
	if endpoint == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(endpoint); err == nil {
		return ap.Addr(), true
	}
	if addr, err := netip.ParseAddr(endpoint); err == nil {
		return addr, true
	}
	return netip.Addr{}, false
}

// Close releases resources held by the database.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.reader != nil {
		return db.reader.Close()
	}
	return nil
}
