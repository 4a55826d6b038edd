// Package fingerprint derives a normalized access fingerprint from raw request metadata.
package fingerprint

import (
	"net"
	"net/http"
	"strings"

	"github.com/and161185/securelink/internal/model"
)

// FallbackIP is used when no client address can be determined.
const FallbackIP = "127.0.0.1"

// Device classes.
const (
	DeviceMobile  = "Mobile"
	DeviceTablet  = "Tablet"
	DeviceDesktop = "Desktop"
)

// Browser and OS names. Unknown covers both.
const (
	BrowserChrome  = "Chrome"
	BrowserFirefox = "Firefox"
	BrowserSafari  = "Safari"
	BrowserEdge    = "Edge"
	BrowserOpera   = "Opera"

	OSWindows = "Windows"
	OSMacOS   = "macOS"
	OSLinux   = "Linux"
	OSAndroid = "Android"
	OSiOS     = "iOS"

	Unknown = "Unknown"
)

// ipHeaders is the resolution order for the real client address.
var ipHeaders = []string{"Cf-Connecting-Ip", "X-Real-Ip", "X-Client-Ip"}

// ClientIP resolves the client address from proxy headers:
// cf-connecting-ip > x-real-ip > x-client-ip > first x-forwarded-for entry > FallbackIP.
func ClientIP(h http.Header) string {
	for _, k := range ipHeaders {
		if v := strings.TrimSpace(h.Get(k)); v != "" {
			return v
		}
	}
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	return FallbackIP
}

// ClientIPWithRemote behaves like ClientIP but falls back to the connection
// address before the loopback placeholder. Without a proxy in front this
// makes direct clients distinguishable, at the cost of no longer reporting
// every header-less request as 127.0.0.1.
func ClientIPWithRemote(h http.Header, remoteAddr string) string {
	ip := ClientIP(h)
	if ip != FallbackIP || remoteAddr == "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil && host != "" {
		return host
	}
	return ip
}

// Agent is the parsed form of a user-agent string.
type Agent struct {
	Device  string
	Browser string
	OS      string
}

// ParseUserAgent classifies ua with ordered substring checks. Order matters:
// Edge and Opera UAs contain "Chrome", Chrome UAs contain "Safari",
// iPad UAs contain "Mobile", Android UAs contain "Linux".
func ParseUserAgent(ua string) Agent {
	return Agent{
		Device:  parseDevice(ua),
		Browser: parseBrowser(ua),
		OS:      parseOS(ua),
	}
}

func parseDevice(ua string) string {
	switch {
	case strings.Contains(ua, "iPad"), strings.Contains(ua, "Tablet"):
		return DeviceTablet
	case strings.Contains(ua, "Mobile"), strings.Contains(ua, "iPhone"), strings.Contains(ua, "Android"):
		return DeviceMobile
	default:
		return DeviceDesktop
	}
}

func parseBrowser(ua string) string {
	switch {
	case strings.Contains(ua, "Edg/"), strings.Contains(ua, "Edge/"), strings.Contains(ua, "EdgA/"):
		return BrowserEdge
	case strings.Contains(ua, "OPR/"), strings.Contains(ua, "Opera"):
		return BrowserOpera
	case strings.Contains(ua, "Firefox/"), strings.Contains(ua, "FxiOS/"):
		return BrowserFirefox
	case strings.Contains(ua, "Chrome/"), strings.Contains(ua, "CriOS/"):
		return BrowserChrome
	case strings.Contains(ua, "Safari/"):
		return BrowserSafari
	default:
		return Unknown
	}
}

func parseOS(ua string) string {
	switch {
	case strings.Contains(ua, "Windows"):
		return OSWindows
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"), strings.Contains(ua, "iPod"):
		return OSiOS
	case strings.Contains(ua, "Android"):
		return OSAndroid
	case strings.Contains(ua, "Mac OS X"), strings.Contains(ua, "Macintosh"):
		return OSMacOS
	case strings.Contains(ua, "Linux"), strings.Contains(ua, "X11"):
		return OSLinux
	default:
		return Unknown
	}
}

// RequestIP resolves the client address of r. The connection address is
// consulted only when useRemote is set.
func RequestIP(r *http.Request, useRemote bool) string {
	if useRemote {
		return ClientIPWithRemote(r.Header, r.RemoteAddr)
	}
	return ClientIP(r.Header)
}

// FromRequest builds a location-less fingerprint from request headers.
func FromRequest(r *http.Request, useRemote bool) model.Fingerprint {
	ua := r.UserAgent()
	a := ParseUserAgent(ua)
	return model.Fingerprint{
		IP:        RequestIP(r, useRemote),
		Device:    a.Device,
		Browser:   a.Browser,
		OS:        a.OS,
		UserAgent: ua,
	}
}
