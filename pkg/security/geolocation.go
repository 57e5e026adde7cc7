package security

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"time"
)

const (
	geolocationCacheTTL = 7 * 24 * time.Hour
	geolocationTimeout  = 5 * time.Second
	geolocationEndpoint = "http://ip-api.com/json/%s?fields=status,country,city"
)

// cgnatRange and benchmarkRange are IANA special-purpose ranges not covered
// by netip.Addr's IsPrivate/IsLoopback (spec §4.6; SPEC_FULL.md §4.6).
var (
	cgnatRange     = netip.MustParsePrefix("100.64.0.0/10")
	benchmarkRange = netip.MustParsePrefix("198.18.0.0/15")
)

// isPubliclyRoutable reports whether ip should be sent to the external
// geolocation endpoint: not private, loopback, or one of the additional
// IANA special-purpose ranges the stdlib doesn't classify itself.
func isPubliclyRoutable(ip netip.Addr) bool {
	if !ip.IsValid() {
		return false
	}
	ip = ip.Unmap()
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() || ip.IsUnspecified() {
		return false
	}
	if ip.Is4() && (cgnatRange.Contains(ip) || benchmarkRange.Contains(ip)) {
		return false
	}
	return true
}

type geolocationResponse struct {
	Status  string `json:"status"`
	Country string `json:"country"`
	City    string `json:"city"`
}

// Geolocator resolves an IP to (country, city), backed by a 7-day cache and
// short-circuiting private/loopback/reserved addresses without network I/O
// (spec §4.6).
type Geolocator struct {
	store  *Store
	client *http.Client
}

func NewGeolocator(store *Store) *Geolocator {
	return &Geolocator{store: store, client: &http.Client{Timeout: geolocationTimeout}}
}

// Lookup returns (country, city) for ipStr, or ("", "") if the address is
// private/loopback/reserved/invalid, or if the lookup fails. Failures are
// swallowed and logged by the caller via the returned error, which is
// non-nil only for genuine lookup failures worth surfacing in logs — the
// caller still proceeds with empty strings either way (spec §4.6).
func (g *Geolocator) Lookup(ctx context.Context, ipStr string) (country, city string, err error) {
	if ipStr == "" {
		return "", "", nil
	}
	addr, parseErr := netip.ParseAddr(ipStr)
	if parseErr != nil {
		return "", "", nil
	}
	if !isPubliclyRoutable(addr) {
		return "", "", nil
	}

	cachedCountry, cachedCity, cachedAt, found, storeErr := g.store.GetGeolocationCache(ctx, ipStr)
	if storeErr != nil {
		return "", "", storeErr
	}
	if found && time.Since(cachedAt) < geolocationCacheTTL {
		return cachedCountry, cachedCity, nil
	}

	country, city, err = g.fetch(ctx, ipStr)
	if err != nil {
		return "", "", err
	}
	if setErr := g.store.SetGeolocationCache(ctx, ipStr, country, city, time.Now()); setErr != nil {
		return country, city, setErr
	}
	return country, city, nil
}

func (g *Geolocator) fetch(ctx context.Context, ip string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, geolocationTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(geolocationEndpoint, ip), nil)
	if err != nil {
		return "", "", fmt.Errorf("building geolocation request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("calling geolocation endpoint: %w", err)
	}
	defer resp.Body.Close()

	var data geolocationResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", "", fmt.Errorf("decoding geolocation response: %w", err)
	}
	if data.Status != "success" {
		return "", "", fmt.Errorf("geolocation endpoint returned status %q", data.Status)
	}
	return data.Country, data.City, nil
}
