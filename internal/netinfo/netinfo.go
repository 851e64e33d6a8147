// Package netinfo optionally annotates coordination-service endpoints
// with GeoIP country code and region for connect/reconnect log lines (no
// ASN information is included), using the
// same file-backed IP2Location database as the teacher's HTTP-facing
// endpoint annotation (pkg/atlas's ip2xMgr).
package netinfo

import (
	"net"
	"net/netip"
	"os"
	"strings"
	"sync"

	"github.com/pg9182/ip2x"
)

// DB wraps a file-backed IP2Location database.
type DB struct {
	mu   sync.RWMutex
	file *os.File
	db   *ip2x.DB
}

// Open loads the IP2Location database at name.
func Open(name string) (*DB, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	db, err := ip2x.New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &DB{file: f, db: db}, nil
}

func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file != nil {
		return d.file.Close()
	}
	return nil
}

// Annotate implements zk.EndpointAnnotator: attach via
// zk.WithEndpointAnnotator(db.Annotate). hostport may be a bare IP or
// host:port; a hostname that doesn't parse as an IP is left
// unannotated, since ip2x operates on addresses, not names.
func (d *DB) Annotate(hostport string) string {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return ""
	}

	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()
	if db == nil {
		return ""
	}

	rec, err := db.Lookup(ip)
	if err != nil {
		return ""
	}

	var parts []string
	if cc, ok := rec.GetString(ip2x.CountryCode); ok && cc != "" {
		parts = append(parts, cc)
	}
	if region, ok := rec.GetString(ip2x.Region); ok && region != "" {
		parts = append(parts, region)
	}
	return strings.Join(parts, " ")
}
