package middleware

import (
	"net"
	"strings"

	"github.com/labstack/echo/v4"
)

const remoteIPKey = "remoteIP"

// RemoteIP stores the normalized client address on the context. IPv4-mapped
// IPv6 addresses are reduced to their IPv4 form so they match telemetry rows.
func RemoteIP(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Set(remoteIPKey, NormalizeIP(c.RealIP()))
		return next(c)
	}
}

func NormalizeIP(raw string) string {
	raw = strings.TrimSpace(raw)
	ip := net.ParseIP(raw)
	if ip == nil {
		return raw
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}

// ClientIP returns the address stored by RemoteIP, falling back to RealIP.
func ClientIP(c echo.Context) string {
	if ip, ok := c.Get(remoteIPKey).(string); ok && ip != "" {
		return ip
	}
	return NormalizeIP(c.RealIP())
}
