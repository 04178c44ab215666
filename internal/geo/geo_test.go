package geo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticResolver(t *testing.T) {
	lat, lon := 52.52, 13.405
	resolver := StaticResolver{
		Locations: map[string]Location{
			"203.0.113.7": {CountryCode: "DE", City: "Berlin", Latitude: &lat, Longitude: &lon},
		},
		Fallback: Location{CountryCode: "US"},
	}

	loc, err := resolver.Resolve(context.Background(), " 203.0.113.7 ")
	require.NoError(t, err)
	require.Equal(t, "Berlin", loc.City)

	loc, err = resolver.Resolve(context.Background(), "198.51.100.1")
	require.NoError(t, err)
	require.Equal(t, "US", loc.CountryCode)

	for _, ip := range []string{"127.0.0.1", "10.1.2.3", "192.168.0.10", "::1", "fe80::1"} {
		loc, err = resolver.Resolve(context.Background(), ip)
		require.NoError(t, err, ip)
		require.True(t, loc.IsZero(), ip)
	}

	_, err = resolver.Resolve(context.Background(), "not-an-ip")
	require.ErrorIs(t, err, ErrInvalidIP)
}

func TestOpenMaxMindMissingDatabase(t *testing.T) {
	_, err := OpenMaxMind(t.TempDir()+"/missing.mmdb", "")
	require.Error(t, err)
}

func TestUAParser(t *testing.T) {
	parser := UAParser{}

	tests := []struct {
		name       string
		ua         string
		browser    string
		deviceType string
	}{
		{
			name:       "desktop firefox",
			ua:         "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
			browser:    "Firefox",
			deviceType: DeviceDesktop,
		},
		{
			name:       "iphone safari",
			ua:         "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
			browser:    "Safari",
			deviceType: DeviceMobile,
		},
		{
			name:       "ipad",
			ua:         "Mozilla/5.0 (iPad; CPU OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1",
			browser:    "Safari",
			deviceType: DeviceTablet,
		},
		{
			name:       "bot",
			ua:         "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
			deviceType: DeviceBot,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			info := parser.Parse(tc.ua)
			require.Equal(t, tc.deviceType, info.DeviceType)
			if tc.browser != "" {
				require.Equal(t, tc.browser, info.Browser)
			}
		})
	}

	require.Equal(t, DeviceUnknown, parser.Parse("  ").DeviceType)
	require.Equal(t, "Unknown device", ClientInfo{}.Name())
	require.Equal(t, "Firefox on Linux", ClientInfo{Browser: "Firefox", OS: "Linux"}.Name())
}
