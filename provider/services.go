package provider

import (
	"net/url"
	"strings"

	"github.com/jinzhu/copier"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

const (
	NameIPAPI         = "ip-api.com"
	NameIPInfo        = "ipinfo.io"
	NameIPAPICo       = "ipapi.co"
	NameIPWhoIs       = "ipwho.is"
	NameIPAPILine     = "ip-api.com/line"
	NameIPAPIIs       = "ipapi.is"
	NameIPBase        = "ipbase.com"
	NameIPRegistry    = "ipregistry.co"
	NameIPGeolocation = "ipgeolocation.io"
	NameIPStack       = "ipstack.com"
	NameDBIP          = "db-ip.com"
	NameAbstractAPI   = "abstractapi.com"
	NameIPify         = "ipify.org"
	NameIP2Location   = "ip2location.io"

	ipRegistryTryoutKey = "tryout"
)

// APIKeyNames maps providers that accept a key to their entry in
// ServiceOptions.APIKeys (online.keys.<name> in the config).
var APIKeyNames = map[string]string{
	NameIPInfo:        "ipinfo",
	NameIPAPICo:       "ipapico",
	NameIPBase:        "ipbase",
	NameIPRegistry:    "ipregistry",
	NameIPGeolocation: "ipgeolocation",
	NameIPStack:       "ipstack",
	NameAbstractAPI:   "abstractapi",
	NameIPify:         "ipify",
	NameIP2Location:   "ip2location",
}

func (o ServiceOptions) apiKey(name string) string {
	keyName, ok := APIKeyNames[name]
	if !ok {
		return ""
	}
	return o.APIKeys[keyName]
}

// NewOnlineDescriptors builds the fixed provider catalog. Providers needing a
// key that is missing from opts.APIKeys are returned as unavailable.
func NewOnlineDescriptors(opts ServiceOptions) []Descriptor {
	opts = opts.withDefaults()

	service := func(name string, tier Tier, keyed bool, endpoint func(address, key string) string, decode decodeFunc) *httpService {
		return &httpService{
			name:     name,
			tier:     tier,
			keyed:    keyed,
			key:      opts.apiKey(name),
			client:   opts.Client,
			limiter:  rate.NewLimiter(rate.Every(opts.RateInterval), opts.RateBurst),
			endpoint: endpoint,
			decode:   decode,
		}
	}

	services := []*httpService{
		service(NameIPAPI, TierPrimary, false, ipAPIEndpoint, jsonDecoder(fromIPAPI)),
		service(NameIPInfo, TierPrimary, false, ipInfoEndpoint, jsonDecoder(fromIPInfo)),
		service(NameIPAPICo, TierPrimary, true, ipAPICoEndpoint, jsonDecoder(fromIPAPICo)),
		service(NameIPWhoIs, TierSecondary, false, ipWhoIsEndpoint, jsonDecoder(fromIPWhoIs)),
		service(NameIPAPILine, TierSecondary, false, ipAPILineEndpoint, decodeIPAPILine),
		service(NameIPAPIIs, TierSecondary, false, ipAPIIsEndpoint, jsonDecoder(fromIPAPIIs)),
		service(NameIPBase, TierTertiary, false, ipBaseEndpoint, jsonDecoder(fromIPBase)),
		service(NameIPRegistry, TierTertiary, false, ipRegistryEndpoint, jsonDecoder(fromIPRegistry)),
		service(NameIPGeolocation, TierTertiary, true, ipGeolocationEndpoint, jsonDecoder(fromIPGeolocation)),
		service(NameDBIP, TierTertiary, false, dbIPEndpoint, jsonDecoder(fromDBIP)),
		service(NameAbstractAPI, TierTertiary, true, abstractAPIEndpoint, jsonDecoder(fromAbstractAPI)),
		service(NameIPify, TierTertiary, true, ipifyEndpoint, jsonDecoder(fromIPify)),
		service(NameIP2Location, TierTertiary, false, ip2LocationEndpoint, jsonDecoder(fromIP2Location)),
	}

	descriptors := lo.Map(services, func(s *httpService, _ int) Descriptor {
		return s.descriptor()
	})
	descriptors = append(descriptors, newIPStackDescriptor(opts.apiKey(NameIPStack), opts))

	for _, d := range descriptors {
		if d.Unavailable != nil {
			log.Debug().Str("provider", d.Name).Msg("no api key configured, provider disabled")
		}
	}

	return descriptors
}

func withQuery(base string, values url.Values) string {
	if len(values) == 0 {
		return base
	}
	return base + "?" + values.Encode()
}

// ip-api.com

func ipAPIEndpoint(address, _ string) string {
	return "http://ip-api.com/json/" + url.PathEscape(address)
}

type ipAPIResponse struct {
	Status      string  `json:"status"`
	CountryCode string  `json:"countryCode"`
	Country     string  `json:"country"`
	City        string  `json:"city"`
	RegionName  string  `json:"regionName"`
	ISP         string  `json:"isp"`
	Org         string  `json:"org"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Timezone    string  `json:"timezone"`
	Zip         string  `json:"zip"`
	Query       string  `json:"query"`
}

func fromIPAPI(r *ipAPIResponse) *RawResult {
	if r.Status != "success" {
		return nil
	}

	raw := &RawResult{}
	if err := copier.Copy(raw, r); err != nil {
		return nil
	}
	raw.IP = r.Query
	raw.Lat = r.Lat
	raw.Lon = r.Lon
	raw.PostalCode = r.Zip

	return raw
}

func ipAPILineEndpoint(address, _ string) string {
	return withQuery("http://ip-api.com/line/"+url.PathEscape(address), url.Values{
		"fields": {"status,countryCode,country,city,regionName,isp,lat,lon"},
	})
}

// decodeIPAPILine reads the plain text variant: one field per line in the
// order requested by ipAPILineEndpoint.
func decodeIPAPILine(body []byte) (*RawResult, error) {
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) < 8 || strings.TrimSpace(lines[0]) != "success" {
		return nil, nil
	}
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}

	return &RawResult{
		CountryCode: lines[1],
		Country:     lines[2],
		City:        lines[3],
		RegionName:  lines[4],
		ISP:         lines[5],
		Lat:         lines[6],
		Lon:         lines[7],
	}, nil
}

// ipinfo.io

func ipInfoEndpoint(address, key string) string {
	values := url.Values{}
	if key != "" {
		values.Set("token", key)
	}
	return withQuery("https://ipinfo.io/"+url.PathEscape(address)+"/json", values)
}

type ipInfoResponse struct {
	IP       string `json:"ip"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Country  string `json:"country"`
	Loc      string `json:"loc"`
	Org      string `json:"org"`
	Postal   string `json:"postal"`
	Timezone string `json:"timezone"`
	Bogon    bool   `json:"bogon"`
}

func fromIPInfo(r *ipInfoResponse) *RawResult {
	if r.Bogon || r.Country == "" {
		return nil
	}

	lat, lon, _ := strings.Cut(r.Loc, ",")

	// ipinfo only reports the ISO code
	return &RawResult{
		IP:          r.IP,
		CountryCode: r.Country,
		Country:     r.Country,
		City:        r.City,
		Region:      r.Region,
		Org:         r.Org,
		Lat:         lat,
		Lon:         lon,
		Timezone:    r.Timezone,
		PostalCode:  r.Postal,
	}
}

// ipapi.co

func ipAPICoEndpoint(address, key string) string {
	return withQuery("https://ipapi.co/"+url.PathEscape(address)+"/json/", url.Values{"key": {key}})
}

type ipAPICoResponse struct {
	IP          string  `json:"ip"`
	Error       bool    `json:"error"`
	CountryCode string  `json:"country_code"`
	CountryName string  `json:"country_name"`
	City        string  `json:"city"`
	Region      string  `json:"region"`
	Org         string  `json:"org"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timezone    string  `json:"timezone"`
	Postal      string  `json:"postal"`
}

func fromIPAPICo(r *ipAPICoResponse) *RawResult {
	if r.Error {
		return nil
	}

	raw := &RawResult{}
	if err := copier.Copy(raw, r); err != nil {
		return nil
	}
	raw.Lat = r.Latitude
	raw.Lon = r.Longitude
	raw.PostalCode = r.Postal

	return raw
}

// ipwho.is

func ipWhoIsEndpoint(address, _ string) string {
	return "https://ipwho.is/" + url.PathEscape(address)
}

type ipWhoIsResponse struct {
	IP          string     `json:"ip"`
	Success     bool       `json:"success"`
	CountryCode string     `json:"country_code"`
	Country     string     `json:"country"`
	City        string     `json:"city"`
	Region      string     `json:"region"`
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	Postal      string     `json:"postal"`
	Connection  Connection `json:"connection"`
	Timezone    struct {
		ID string `json:"id"`
	} `json:"timezone"`
}

func fromIPWhoIs(r *ipWhoIsResponse) *RawResult {
	if !r.Success {
		return nil
	}

	raw := &RawResult{}
	if err := copier.Copy(raw, r); err != nil {
		return nil
	}
	raw.Lat = r.Latitude
	raw.Lon = r.Longitude
	raw.Timezone = r.Timezone.ID
	raw.PostalCode = r.Postal

	return raw
}

// ipapi.is

func ipAPIIsEndpoint(address, _ string) string {
	return withQuery("https://api.ipapi.is/", url.Values{"q": {address}})
}

type ipAPIIsResponse struct {
	IP         string     `json:"ip"`
	Error      string     `json:"error"`
	Connection Connection `json:"connection"`
	Company    struct {
		Name string `json:"name"`
	} `json:"company"`
	Location struct {
		CountryCode string  `json:"country_code"`
		Country     string  `json:"country"`
		City        string  `json:"city"`
		State       string  `json:"state"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
		Timezone    string  `json:"timezone"`
		Zip         string  `json:"zip"`
	} `json:"location"`
}

func fromIPAPIIs(r *ipAPIIsResponse) *RawResult {
	if r.Error != "" {
		return nil
	}

	return &RawResult{
		IP:          r.IP,
		CountryCode: r.Location.CountryCode,
		Country:     r.Location.Country,
		City:        r.Location.City,
		Region:      r.Location.State,
		Connection:  r.Connection,
		Org:         r.Company.Name,
		Lat:         r.Location.Latitude,
		Lon:         r.Location.Longitude,
		Timezone:    r.Location.Timezone,
		PostalCode:  r.Location.Zip,
	}
}

// ipbase.com

func ipBaseEndpoint(address, key string) string {
	values := url.Values{"ip": {address}}
	if key != "" {
		values.Set("apikey", key)
	}
	return withQuery("https://api.ipbase.com/v2/info", values)
}

type ipBaseResponse struct {
	Data struct {
		IP         string     `json:"ip"`
		Connection Connection `json:"connection"`
		Location   struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
			Zip       string  `json:"zip"`
			Country   struct {
				Alpha2 string `json:"alpha2"`
				Name   string `json:"name"`
			} `json:"country"`
			Region struct {
				Name string `json:"name"`
			} `json:"region"`
			City struct {
				Name string `json:"name"`
			} `json:"city"`
		} `json:"location"`
		Timezone struct {
			ID string `json:"id"`
		} `json:"timezone"`
	} `json:"data"`
}

func fromIPBase(r *ipBaseResponse) *RawResult {
	d := r.Data
	if d.Location.Country.Alpha2 == "" && d.Location.Country.Name == "" {
		return nil
	}

	return &RawResult{
		IP:          d.IP,
		CountryCode: d.Location.Country.Alpha2,
		Country:     d.Location.Country.Name,
		City:        d.Location.City.Name,
		Region:      d.Location.Region.Name,
		Connection:  d.Connection,
		Lat:         d.Location.Latitude,
		Lon:         d.Location.Longitude,
		Timezone:    d.Timezone.ID,
		PostalCode:  d.Location.Zip,
	}
}

// ipregistry.co

func ipRegistryEndpoint(address, key string) string {
	if key == "" {
		key = ipRegistryTryoutKey
	}
	return withQuery("https://api.ipregistry.co/"+url.PathEscape(address), url.Values{"key": {key}})
}

type ipRegistryResponse struct {
	IP         string     `json:"ip"`
	Connection Connection `json:"connection"`
	Location   struct {
		Country struct {
			Code string `json:"code"`
			Name string `json:"name"`
		} `json:"country"`
		Region struct {
			Name string `json:"name"`
		} `json:"region"`
		City      string  `json:"city"`
		Postal    string  `json:"postal"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
	TimeZone struct {
		ID string `json:"id"`
	} `json:"time_zone"`
}

func fromIPRegistry(r *ipRegistryResponse) *RawResult {
	if r.Location.Country.Code == "" {
		return nil
	}

	return &RawResult{
		IP:          r.IP,
		CountryCode: r.Location.Country.Code,
		Country:     r.Location.Country.Name,
		City:        r.Location.City,
		Region:      r.Location.Region.Name,
		Connection:  r.Connection,
		Lat:         r.Location.Latitude,
		Lon:         r.Location.Longitude,
		Timezone:    r.TimeZone.ID,
		PostalCode:  r.Location.Postal,
	}
}

// ipgeolocation.io

func ipGeolocationEndpoint(address, key string) string {
	return withQuery("https://api.ipgeolocation.io/ipgeo", url.Values{"apiKey": {key}, "ip": {address}})
}

type ipGeolocationResponse struct {
	IP           string `json:"ip"`
	Message      string `json:"message"`
	CountryCode2 string `json:"country_code2"`
	CountryName  string `json:"country_name"`
	City         string `json:"city"`
	StateProv    string `json:"state_prov"`
	ISP          string `json:"isp"`
	Latitude     string `json:"latitude"`
	Longitude    string `json:"longitude"`
	Zipcode      string `json:"zipcode"`
	TimeZone     struct {
		Name string `json:"name"`
	} `json:"time_zone"`
}

func fromIPGeolocation(r *ipGeolocationResponse) *RawResult {
	if r.Message != "" {
		return nil
	}

	return &RawResult{
		IP:          r.IP,
		CountryCode: r.CountryCode2,
		CountryName: r.CountryName,
		City:        r.City,
		Region:      r.StateProv,
		ISP:         r.ISP,
		Lat:         r.Latitude,
		Lon:         r.Longitude,
		Timezone:    r.TimeZone.Name,
		PostalCode:  r.Zipcode,
	}
}

// db-ip.com

func dbIPEndpoint(address, _ string) string {
	return "https://api.db-ip.com/v2/free/" + url.PathEscape(address)
}

type dbIPResponse struct {
	IPAddress   string `json:"ipAddress"`
	Error       string `json:"error"`
	CountryCode string `json:"countryCode"`
	CountryName string `json:"countryName"`
	City        string `json:"city"`
	StateProv   string `json:"stateProv"`
}

func fromDBIP(r *dbIPResponse) *RawResult {
	if r.Error != "" || r.CountryCode == "" {
		return nil
	}

	// the free endpoint carries neither coordinates nor ISP
	return &RawResult{
		IP:          r.IPAddress,
		CountryCode: r.CountryCode,
		CountryName: r.CountryName,
		City:        r.City,
		Region:      r.StateProv,
	}
}

// abstractapi.com

func abstractAPIEndpoint(address, key string) string {
	return withQuery("https://ipgeolocation.abstractapi.com/v1/", url.Values{"api_key": {key}, "ip_address": {address}})
}

type abstractAPIResponse struct {
	IPAddress   string  `json:"ip_address"`
	CountryCode string  `json:"country_code"`
	Country     string  `json:"country"`
	City        string  `json:"city"`
	Region      string  `json:"region"`
	PostalCode  string  `json:"postal_code"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Connection  struct {
		ISPName          string `json:"isp_name"`
		OrganizationName string `json:"organization_name"`
	} `json:"connection"`
	Timezone struct {
		Name string `json:"name"`
	} `json:"timezone"`
}

func fromAbstractAPI(r *abstractAPIResponse) *RawResult {
	if r.CountryCode == "" && r.Country == "" {
		return nil
	}

	raw := &RawResult{}
	if err := copier.Copy(raw, r); err != nil {
		return nil
	}
	raw.IP = r.IPAddress
	raw.ISP = r.Connection.ISPName
	raw.Org = r.Connection.OrganizationName
	raw.Lat = r.Latitude
	raw.Lon = r.Longitude
	raw.Timezone = r.Timezone.Name

	return raw
}

// ipify.org

func ipifyEndpoint(address, key string) string {
	return withQuery("https://geo.ipify.org/api/v2/country,city", url.Values{"apiKey": {key}, "ipAddress": {address}})
}

type ipifyResponse struct {
	IP       string `json:"ip"`
	ISP      string `json:"isp"`
	Location struct {
		Country    string  `json:"country"`
		Region     string  `json:"region"`
		City       string  `json:"city"`
		Lat        float64 `json:"lat"`
		Lng        float64 `json:"lng"`
		PostalCode string  `json:"postalCode"`
		Timezone   string  `json:"timezone"`
	} `json:"location"`
}

func fromIPify(r *ipifyResponse) *RawResult {
	if r.Location.Country == "" {
		return nil
	}

	// ipify reports the ISO code under "country"
	return &RawResult{
		IP:          r.IP,
		CountryCode: r.Location.Country,
		Country:     r.Location.Country,
		City:        r.Location.City,
		Region:      r.Location.Region,
		ISP:         r.ISP,
		Lat:         r.Location.Lat,
		Lon:         r.Location.Lng,
		Timezone:    r.Location.Timezone,
		PostalCode:  r.Location.PostalCode,
	}
}

// ip2location.io

func ip2LocationEndpoint(address, key string) string {
	values := url.Values{"ip": {address}, "format": {"json"}}
	if key != "" {
		values.Set("key", key)
	}
	return withQuery("https://api.ip2location.io/", values)
}

type ip2LocationResponse struct {
	IP          string  `json:"ip"`
	CountryCode string  `json:"country_code"`
	CountryName string  `json:"country_name"`
	RegionName  string  `json:"region_name"`
	CityName    string  `json:"city_name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	ZipCode     string  `json:"zip_code"`
	TimeZone    string  `json:"time_zone"`
	AS          string  `json:"as"`
	ISP         string  `json:"isp"`
	Error       *struct {
		Message string `json:"error_message"`
	} `json:"error"`
}

func fromIP2Location(r *ip2LocationResponse) *RawResult {
	if r.Error != nil || r.CountryCode == "" || r.CountryCode == "-" {
		return nil
	}

	raw := &RawResult{}
	if err := copier.Copy(raw, r); err != nil {
		return nil
	}
	raw.City = r.CityName
	raw.Org = r.AS
	raw.Lat = r.Latitude
	raw.Lon = r.Longitude
	raw.Timezone = r.TimeZone
	raw.PostalCode = r.ZipCode

	return raw
}
