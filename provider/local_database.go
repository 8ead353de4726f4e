package provider

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog/log"

	"github.com/nodegeo/nodegeo/utils"
)

const DefaultLocale = "zh-CN"

type LookupStatus int

const (
	Found LookupStatus = iota
	NotFound
	Invalid
	Unavailable
	Failed
)

var lookupStatusNames = map[LookupStatus]string{
	Found:       "found",
	NotFound:    "not_found",
	Invalid:     "invalid",
	Unavailable: "unavailable",
	Failed:      "error",
}

func (s LookupStatus) String() string {
	return lookupStatusNames[s]
}

// LookupResult is the outcome of a local lookup. Result is set only when
// Status is Found.
type LookupResult struct {
	Status LookupStatus
	Result *utils.GeoResult
	Err    error
}

type Metadata struct {
	Path          string    `json:"path"`
	DatabaseType  string    `json:"database_type"`
	Description   string    `json:"description,omitempty"`
	FormatVersion string    `json:"format_version"`
	BuildTime     time.Time `json:"build_time"`
	IPVersion     uint      `json:"ip_version"`
	NodeCount     uint      `json:"node_count"`
	RecordSize    uint      `json:"record_size"`
	Languages     []string  `json:"languages"`
}

type LocalStats struct {
	TotalQueries    uint64  `json:"total_queries"`
	Successful      uint64  `json:"successful"`
	CityFound       uint64  `json:"city_found"`
	AddressNotFound uint64  `json:"address_not_found"`
	Errors          uint64  `json:"errors"`
	SuccessRate     float64 `json:"success_rate"`
	CityFoundRate   float64 `json:"city_found_rate"`
}

type CoverageReport struct {
	Total        int     `json:"total"`
	WithCity     int     `json:"with_city"`
	WithoutCity  int     `json:"without_city"`
	NotFound     int     `json:"not_found"`
	Invalid      int     `json:"invalid"`
	CityCoverage float64 `json:"city_coverage"`
}

// LocalDatabase answers lookups from an mmdb city database. A LocalDatabase
// whose Open found no usable file stays unavailable until the next Refresh.
type LocalDatabase struct {
	mu       sync.RWMutex
	opener   Opener
	locale   string
	paths    []string
	db       Database
	usedPath string

	statsMu sync.Mutex
	stats   LocalStats
}

func NewLocalDatabase(opener Opener, locale string) *LocalDatabase {
	if opener == nil {
		opener = OpenMaxMind
	}
	if locale == "" {
		locale = DefaultLocale
	}

	return &LocalDatabase{
		opener: opener,
		locale: locale,
	}
}

// Open tries each candidate path in order and keeps the first database that
// loads. Failures are logged and never fatal.
func (l *LocalDatabase) Open(ctx context.Context, paths []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.paths = append([]string(nil), paths...)
	return l.openLocked(ctx)
}

func (l *LocalDatabase) openLocked(_ context.Context) error {
	for _, candidate := range l.paths {
		if candidate == "" {
			continue
		}

		path := utils.ExpandPath(candidate)
		if !utils.FileExists(path) {
			log.Debug().Str("path", path).Msg("local database not found")
			continue
		}

		db, err := l.opener(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to open local database")
			continue
		}

		if l.db != nil {
			if err := l.db.Close(); err != nil {
				log.Warn().Err(err).Str("path", l.usedPath).Msg("failed to close previous local database")
			}
		}

		l.db = db
		l.usedPath = path
		l.logMetadata()
		return nil
	}

	log.Warn().Strs("paths", l.paths).Msg("no usable local database, lookups will go online only")
	return utils.DatabaseUnavailableError{}
}

func (l *LocalDatabase) logMetadata() {
	meta := l.metadataLocked()
	log.Info().
		Str("path", meta.Path).
		Str("type", meta.DatabaseType).
		Time("build_time", meta.BuildTime).
		Uint("ip_version", meta.IPVersion).
		Uint("nodes", meta.NodeCount).
		Strs("languages", meta.Languages).
		Msg("local database loaded")
}

// Refresh reopens the database from the configured paths, picking up a file
// replaced by a download. The current database stays in use if none loads.
func (l *LocalDatabase) Refresh(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.openLocked(ctx)
}

func (l *LocalDatabase) Available() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.db != nil
}

func (l *LocalDatabase) Lookup(_ context.Context, address string) LookupResult {
	l.count(func(s *LocalStats) { s.TotalQueries++ })

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.db == nil {
		return LookupResult{Status: Unavailable, Err: utils.DatabaseUnavailableError{}}
	}

	ip := net.ParseIP(address)
	if ip == nil {
		l.count(func(s *LocalStats) { s.Errors++ })
		return LookupResult{Status: Invalid, Err: utils.IpAddressError{}}
	}

	record, ok, err := l.db.LookupCity(ip)
	if err != nil {
		l.count(func(s *LocalStats) { s.Errors++ })
		log.Debug().Err(err).Str("address", address).Msg("local database lookup failed")
		return LookupResult{Status: Failed, Err: err}
	}
	if !ok {
		l.count(func(s *LocalStats) { s.AddressNotFound++ })
		return LookupResult{Status: NotFound, Err: utils.AddressNotFoundError{}}
	}

	result := l.toResult(address, record)
	l.count(func(s *LocalStats) {
		s.Successful++
		if result.HasCity {
			s.CityFound++
		}
	})

	return LookupResult{Status: Found, Result: &result}
}

func (l *LocalDatabase) toResult(address string, record *geoip2.City) utils.GeoResult {
	city := record.City.Names["en"]
	localized := record.City.Names[l.locale]
	if localized == "" {
		localized = city
	}

	result := utils.GeoResult{
		Address:           address,
		Country:           record.Country.Names["en"],
		CountryCode:       record.Country.IsoCode,
		City:              city,
		CityLocalized:     localized,
		Continent:         record.Continent.Names["en"],
		ContinentCode:     record.Continent.Code,
		IsInEuropeanUnion: record.Country.IsInEuropeanUnion,
		Latitude:          record.Location.Latitude,
		Longitude:         record.Location.Longitude,
		Timezone:          record.Location.TimeZone,
		PostalCode:        record.Postal.Code,
		Source:            utils.SourceLocal,
		FromLocalDatabase: true,
	}

	// most specific subdivision wins
	if n := len(record.Subdivisions); n > 0 {
		result.Region = record.Subdivisions[n-1].Names["en"]
		result.RegionCode = record.Subdivisions[n-1].IsoCode
	}

	return result.Finalize(utils.AccuracyLow)
}

// CheckCity reports whether the local database knows the city of address.
func (l *LocalDatabase) CheckCity(ctx context.Context, address string) bool {
	res := l.Lookup(ctx, address)
	return res.Status == Found && res.Result.HasCity
}

func (l *LocalDatabase) Coverage(ctx context.Context, addresses []string) CoverageReport {
	report := CoverageReport{Total: len(addresses)}

	for _, address := range addresses {
		res := l.Lookup(ctx, address)
		switch res.Status {
		case Found:
			if res.Result.HasCity {
				report.WithCity++
			} else {
				report.WithoutCity++
			}
		case Invalid:
			report.Invalid++
		default:
			report.NotFound++
		}
	}

	report.CityCoverage = utils.Percent(uint64(report.WithCity), uint64(report.Total))

	return report
}

func (l *LocalDatabase) Metadata() (Metadata, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.db == nil {
		return Metadata{}, false
	}

	return l.metadataLocked(), true
}

func (l *LocalDatabase) metadataLocked() Metadata {
	raw := l.db.Metadata()

	return Metadata{
		Path:          l.usedPath,
		DatabaseType:  raw.DatabaseType,
		Description:   raw.Description["en"],
		FormatVersion: formatVersion(raw.BinaryFormatMajorVersion, raw.BinaryFormatMinorVersion),
		BuildTime:     time.Unix(int64(raw.BuildEpoch), 0).UTC(),
		IPVersion:     raw.IPVersion,
		NodeCount:     raw.NodeCount,
		RecordSize:    raw.RecordSize,
		Languages:     raw.Languages,
	}
}

func formatVersion(major, minor uint) string {
	return fmt.Sprintf("%d.%d", major, minor)
}

func (l *LocalDatabase) count(update func(*LocalStats)) {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()

	update(&l.stats)
}

func (l *LocalDatabase) Stats() LocalStats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()

	stats := l.stats
	stats.SuccessRate = utils.Percent(stats.Successful, stats.TotalQueries)
	stats.CityFoundRate = utils.Percent(stats.CityFound, stats.Successful)

	return stats
}

func (l *LocalDatabase) ResetStats() {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()

	l.stats = LocalStats{}
}

func (l *LocalDatabase) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.db == nil {
		return nil
	}

	err := l.db.Close()
	l.db = nil
	return err
}
