// Package geo resolves coarse locations for client IP addresses.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/and161185/securelink/internal/model"
)

// DefaultBaseURL is the ip-api.com JSON endpoint.
const DefaultBaseURL = "http://ip-api.com/json"

// ErrPrivateAddress is returned for loopback, private and unparsable addresses.
var ErrPrivateAddress = errors.New("geo: address is not publicly routable")

// Locator resolves an IP to a location.
type Locator interface {
	Locate(ctx context.Context, ip string) (model.Location, error)
}

// HTTPLocator queries an ip-api compatible endpoint: GET {base}/{ip}.
type HTTPLocator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPLocator constructs a locator. Per-call deadlines come from ctx.
func NewHTTPLocator(baseURL string, timeout time.Duration) *HTTPLocator {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPLocator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type ipAPIResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

// Locate implements Locator.
func (l *HTTPLocator) Locate(ctx context.Context, ip string) (model.Location, error) {
	addr := net.ParseIP(strings.TrimSpace(ip))
	if addr == nil || addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() || addr.IsLinkLocalUnicast() {
		return model.Location{}, ErrPrivateAddress
	}

	u := l.baseURL + "/" + url.PathEscape(addr.String()) + "?fields=status,message,country,regionName,city,lat,lon"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.Location{}, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return model.Location{}, fmt.Errorf("geo request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return model.Location{}, fmt.Errorf("geo read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return model.Location{}, fmt.Errorf("geo API error (%d): %s", resp.StatusCode, string(body))
	}

	var r ipAPIResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return model.Location{}, fmt.Errorf("geo parse: %w", err)
	}
	if r.Status != "success" {
		return model.Location{}, fmt.Errorf("geo lookup failed: %s", r.Message)
	}

	lat, lon := r.Lat, r.Lon
	return model.Location{
		Country: orUnknown(r.Country),
		City:    orUnknown(r.City),
		Region:  orUnknown(r.RegionName),
		Lat:     &lat,
		Lng:     &lon,
		Source:  model.LocationFromIP,
	}, nil
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return model.Unknown
	}
	return s
}
