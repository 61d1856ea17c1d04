// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package geoip is an optional adapter around a MaxMind GeoIP2/GeoLite2
// country database. IP-to-country resolution is kept strictly external
// to the core -- the GeoIP matcher (see package match) only tests an
// already-resolved ISO-3166-1 alpha-2 code against a table. Resolver is
// that external collaborator: it turns an IP address into the code a
// caller then hands to reader.Reader.MatchGeoIP or
// cache.CachedReader.MatchGeoIP.
package geoip

import (
	"net/netip"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"

	kerrors "grimm.is/k2rule/internal/errors"
)

// Resolver wraps an open MaxMind country (or city) database. It owns
// the underlying memory-mapped file and must be closed when no longer
// needed.
type Resolver struct {
	db *geoip2.Reader
}

// Open memory-maps the MMDB file at path. The database format
// (GeoLite2-Country, GeoIP2-Country, or a City database, which also
// carries country data) is detected by geoip2.Reader itself.
func Open(path string) (*Resolver, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, kerrors.Wrapf(err, kerrors.KindUnavailable, "open geoip database %q", path)
	}
	return &Resolver{db: db}, nil
}

// Close releases the underlying memory map.
func (r *Resolver) Close() error {
	return r.db.Close()
}

// Lookup resolves addr to its ISO-3166-1 alpha-2 country code. ok is
// false if the address isn't covered by the database or the database
// has no country assigned to it (e.g. reserved/private ranges).
func (r *Resolver) Lookup(addr netip.Addr) (code string, ok bool) {
	record, err := r.db.Country(addr.AsSlice())
	if err != nil {
		return "", false
	}
	if record.Country.IsoCode == "" {
		return "", false
	}
	return record.Country.IsoCode, true
}

// Metadata exposes the underlying MMDB's build metadata (database
// type, build epoch, IP version), useful for logging which GeoIP
// database a Resolver was opened against.
func (r *Resolver) Metadata() maxminddb.Metadata {
	return r.db.Metadata()
}
