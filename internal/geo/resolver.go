// Package geo turns client network and user-agent data into the signals consumed by risk scoring.
package geo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// Location is the resolved position of a client address. Zero values mean unknown.
type Location struct {
	Country     string
	CountryCode string
	City        string
	Latitude    *float64
	Longitude   *float64
}

// IsZero reports whether nothing was resolved.
func (l Location) IsZero() bool {
	return l.CountryCode == "" && l.City == "" && l.Latitude == nil && l.Longitude == nil
}

// Resolver maps an IP address to a Location.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (Location, error)
}

// ErrInvalidIP is returned for unparsable addresses.
var ErrInvalidIP = errors.New("geo: invalid ip address")

// MaxMindResolver resolves addresses with a MaxMind GeoIP2/GeoLite2 City database.
type MaxMindResolver struct {
	mu     sync.RWMutex
	reader *geoip2.Reader
	lang   string
}

// OpenMaxMind opens the City database at path.
func OpenMaxMind(path, language string) (*MaxMindResolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geo: open database: %w", err)
	}
	if language == "" {
		language = "en"
	}
	return &MaxMindResolver{reader: reader, lang: language}, nil
}

// Resolve looks up ip. Private, loopback and link-local addresses resolve to an empty Location.
func (r *MaxMindResolver) Resolve(_ context.Context, ip string) (Location, error) {
	addr, private, err := parseIP(ip)
	if err != nil {
		return Location{}, err
	}
	if private {
		return Location{}, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.reader == nil {
		return Location{}, errors.New("geo: resolver closed")
	}

	record, err := r.reader.City(addr)
	if err != nil {
		return Location{}, fmt.Errorf("geo: lookup: %w", err)
	}

	loc := Location{
		Country:     record.Country.Names[r.lang],
		CountryCode: strings.ToUpper(record.Country.IsoCode),
		City:        record.City.Names[r.lang],
	}
	if record.Location.Latitude != 0 || record.Location.Longitude != 0 {
		lat, lon := record.Location.Latitude, record.Location.Longitude
		loc.Latitude, loc.Longitude = &lat, &lon
	}
	return loc, nil
}

// Close releases the database.
func (r *MaxMindResolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reader == nil {
		return nil
	}
	err := r.reader.Close()
	r.reader = nil
	return err
}

// StaticResolver serves fixed locations keyed by IP. Unknown addresses resolve to Fallback.
type StaticResolver struct {
	Locations map[string]Location
	Fallback  Location
}

// Resolve implements Resolver.
func (s StaticResolver) Resolve(_ context.Context, ip string) (Location, error) {
	_, private, err := parseIP(ip)
	if err != nil {
		return Location{}, err
	}
	if loc, ok := s.Locations[strings.TrimSpace(ip)]; ok {
		return loc, nil
	}
	if private {
		return Location{}, nil
	}
	return s.Fallback, nil
}

func parseIP(raw string) (net.IP, bool, error) {
	addr := net.ParseIP(strings.TrimSpace(raw))
	if addr == nil {
		return nil, false, ErrInvalidIP
	}
	private := addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified()
	return addr, private, nil
}
