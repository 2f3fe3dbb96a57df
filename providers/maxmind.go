package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/9seconds/ipgeo/geolib"
	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

const maxmindLanguage = "en"

// coordinates are pointers: 0,0 is a valid location, absent one is
// nil.
type maxmindCityRecord struct {
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Country struct {
		IsoCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
	Subdivisions []struct {
		IsoCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"subdivisions"`
	Postal struct {
		Code string `maxminddb:"code"`
	} `maxminddb:"postal"`
	Location struct {
		Latitude       *float64 `maxminddb:"latitude"`
		Longitude      *float64 `maxminddb:"longitude"`
		AccuracyRadius *uint16  `maxminddb:"accuracy_radius"`
		TimeZone       string   `maxminddb:"time_zone"`
	} `maxminddb:"location"`
}

type maxmindDatabases struct {
	city         *maxminddb.Reader
	isp          *geoip2.Reader
	cityChecksum string
	ispChecksum  string
}

func (m maxmindDatabases) Close() error {
	var err error

	if m.city != nil {
		err = multierr.Append(err, m.city.Close())
	}

	if m.isp != nil {
		err = multierr.Append(err, m.isp.Close())
	}

	return err
}

// Maxmind is an offline provider which works with MaxMind mmdb files:
// a mandatory City database (GeoIP2-City or GeoLite2-City) and an
// optional ISP (GeoIP2-ISP) or ASN (GeoLite2-ASN) one.
type Maxmind struct {
	fs       afero.Fs
	cityPath string
	ispPath  string

	dbs      maxmindDatabases
	dbsMutex sync.RWMutex
}

func (m *Maxmind) Name() string {
	return NameMaxmind
}

func (m *Maxmind) Ready() error {
	m.dbsMutex.RLock()
	defer m.dbsMutex.RUnlock()

	if m.dbs.city == nil {
		return ErrDatabaseIsNotReadyYet
	}

	return nil
}

// Open loads databases from a filesystem.
func (m *Maxmind) Open() error {
	_, err := m.Reload()

	return err
}

// Reload opens databases again if their content has changed. It
// returns true if new databases are in use. Previous databases are
// kept if new ones cannot be opened.
func (m *Maxmind) Reload() (bool, error) {
	m.dbsMutex.RLock()
	current := m.dbs
	m.dbsMutex.RUnlock()

	cityData, cityChecksum, err := readFile(m.fs, m.cityPath)
	if err != nil {
		return false, fmt.Errorf("cannot read city database: %w", err)
	}

	ispData, ispChecksum := []byte(nil), ""

	if m.ispPath != "" {
		ispData, ispChecksum, err = readFile(m.fs, m.ispPath)
		if err != nil {
			return false, fmt.Errorf("cannot read isp database: %w", err)
		}
	}

	if current.city != nil && cityChecksum == current.cityChecksum && ispChecksum == current.ispChecksum {
		return false, nil
	}

	dbs := maxmindDatabases{
		cityChecksum: cityChecksum,
		ispChecksum:  ispChecksum,
	}

	dbs.city, err = maxminddb.FromBytes(cityData)
	if err != nil {
		return false, fmt.Errorf("cannot open city database: %w", err)
	}

	if !strings.HasSuffix(dbs.city.Metadata.DatabaseType, "-City") {
		dbs.Close() // nolint: errcheck

		return false, fmt.Errorf("%w: %s is not a city database",
			ErrUnexpectedDatabaseType, dbs.city.Metadata.DatabaseType)
	}

	if ispData != nil {
		dbs.isp, err = geoip2.FromBytes(ispData)
		if err != nil {
			dbs.Close() // nolint: errcheck

			return false, fmt.Errorf("cannot open isp database: %w", err)
		}

		if dbType := dbs.isp.Metadata().DatabaseType; !isISPDatabase(dbType) && !isASNDatabase(dbType) {
			dbs.Close() // nolint: errcheck

			return false, fmt.Errorf("%w: %s is neither isp nor asn database",
				ErrUnexpectedDatabaseType, dbType)
		}
	}

	m.dbsMutex.Lock()
	old := m.dbs
	m.dbs = dbs
	m.dbsMutex.Unlock()

	if err := old.Close(); err != nil {
		return true, fmt.Errorf("cannot close previous databases: %w", err)
	}

	return true, nil
}

func (m *Maxmind) Close() error {
	m.dbsMutex.Lock()
	defer m.dbsMutex.Unlock()

	err := m.dbs.Close()
	m.dbs = maxmindDatabases{}

	return err
}

func (m *Maxmind) Lookup(ctx context.Context, addr geolib.Address) (geolib.ProviderRecord, error) {
	rv := geolib.ProviderRecord{}

	if err := ctx.Err(); err != nil {
		return rv, err
	}

	m.dbsMutex.RLock()
	defer m.dbsMutex.RUnlock()

	if m.dbs.city == nil {
		return rv, ErrDatabaseIsNotReadyYet
	}

	ip := addr.IP()
	record := maxmindCityRecord{}

	_, ok, err := m.dbs.city.LookupNetwork(ip, &record)

	switch {
	case err != nil:
		return rv, fmt.Errorf("cannot lookup this ip address: %w", err)
	case !ok:
		return rv, geolib.ErrNotFound
	}

	rv.CountryCode = record.Country.IsoCode
	rv.CountryName = record.Country.Names[maxmindLanguage]
	rv.City = record.City.Names[maxmindLanguage]
	rv.PostalCode = record.Postal.Code
	rv.Latitude = record.Location.Latitude
	rv.Longitude = record.Location.Longitude
	rv.AccuracyRadius = record.Location.AccuracyRadius
	rv.Timezone = record.Location.TimeZone

	if len(record.Subdivisions) > 0 {
		rv.RegionCode = record.Subdivisions[0].IsoCode
		rv.RegionName = record.Subdivisions[0].Names[maxmindLanguage]
	}

	if m.dbs.isp != nil {
		if err := m.lookupISP(addr, &rv); err != nil {
			return rv, err
		}
	}

	return rv, nil
}

func (m *Maxmind) lookupISP(addr geolib.Address, rv *geolib.ProviderRecord) error {
	ip := addr.IP()

	if isISPDatabase(m.dbs.isp.Metadata().DatabaseType) {
		record, err := m.dbs.isp.ISP(ip)
		if err != nil {
			return fmt.Errorf("cannot lookup isp: %w", err)
		}

		rv.ISP = record.ISP
		rv.Organization = record.Organization

		if rv.Organization == "" {
			rv.Organization = record.AutonomousSystemOrganization
		}

		return nil
	}

	record, err := m.dbs.isp.ASN(ip)
	if err != nil {
		return fmt.Errorf("cannot lookup asn: %w", err)
	}

	rv.ISP = record.AutonomousSystemOrganization
	rv.Organization = record.AutonomousSystemOrganization

	return nil
}

func isISPDatabase(dbType string) bool {
	return strings.HasSuffix(dbType, "-ISP")
}

func isASNDatabase(dbType string) bool {
	return strings.HasSuffix(dbType, "-ASN")
}

// NewMaxmind creates a new provider. Databases are not opened: call
// Open for that.
func NewMaxmind(fs afero.Fs, cityPath, ispPath string) *Maxmind {
	return &Maxmind{
		fs:       fs,
		cityPath: cityPath,
		ispPath:  ispPath,
	}
}
