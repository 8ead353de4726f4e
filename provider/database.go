package provider

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
)

var (
	ErrInvalidDatabase     = errors.New("invalid geo database file")
	ErrUnsupportedDatabase = errors.New("geo database has no city records")
)

// Database is the read side of an mmdb file. LookupCity reports false when
// the address is not covered by the database.
type Database interface {
	LookupCity(ip net.IP) (*geoip2.City, bool, error)
	Metadata() maxminddb.Metadata
	Close() error
}

// Opener opens the database at path.
type Opener func(path string) (Database, error)

type maxMindDatabase struct {
	reader *maxminddb.Reader
}

// OpenMaxMind opens a GeoLite2/GeoIP2 (or compatible) city database.
func OpenMaxMind(path string) (Database, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		var invalid maxminddb.InvalidDatabaseError
		if errors.As(err, &invalid) {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDatabase, path, err)
		}
		return nil, err
	}

	if !strings.Contains(reader.Metadata.DatabaseType, "City") {
		databaseType := reader.Metadata.DatabaseType
		_ = reader.Close()
		return nil, fmt.Errorf("%w: %s is %s", ErrUnsupportedDatabase, path, databaseType)
	}

	return &maxMindDatabase{reader: reader}, nil
}

func (m *maxMindDatabase) LookupCity(ip net.IP) (*geoip2.City, bool, error) {
	var city geoip2.City
	_, ok, err := m.reader.LookupNetwork(ip, &city)
	if err != nil {
		return nil, false, err
	}

	return &city, ok, nil
}

func (m *maxMindDatabase) Metadata() maxminddb.Metadata {
	return m.reader.Metadata
}

func (m *maxMindDatabase) Close() error {
	return m.reader.Close()
}
