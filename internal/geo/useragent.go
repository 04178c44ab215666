package geo

import (
	"strings"

	"github.com/mssola/useragent"
)

// Device types reported by the parser.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

// ClientInfo is the parsed form of a User-Agent header.
type ClientInfo struct {
	Browser        string
	BrowserVersion string
	OS             string
	OSVersion      string
	DeviceType     string
}

// Name is a short human label, e.g. "Firefox on Linux".
func (c ClientInfo) Name() string {
	switch {
	case c.Browser != "" && c.OS != "":
		return c.Browser + " on " + c.OS
	case c.Browser != "":
		return c.Browser
	case c.OS != "":
		return c.OS
	default:
		return "Unknown device"
	}
}

// UserAgentParser extracts ClientInfo from a User-Agent string.
type UserAgentParser interface {
	Parse(ua string) ClientInfo
}

// UAParser implements UserAgentParser with mssola/useragent.
type UAParser struct{}

// Parse implements UserAgentParser.
func (UAParser) Parse(raw string) ClientInfo {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ClientInfo{DeviceType: DeviceUnknown}
	}

	ua := useragent.New(raw)
	browser, version := ua.Browser()
	os := ua.OSInfo()

	info := ClientInfo{
		Browser:        browser,
		BrowserVersion: version,
		OS:             os.Name,
		OSVersion:      os.Version,
	}

	lower := strings.ToLower(raw)
	switch {
	case ua.Bot():
		info.DeviceType = DeviceBot
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") ||
		(strings.Contains(lower, "android") && !strings.Contains(lower, "mobile")):
		info.DeviceType = DeviceTablet
	case ua.Mobile():
		info.DeviceType = DeviceMobile
	default:
		info.DeviceType = DeviceDesktop
	}
	return info
}
