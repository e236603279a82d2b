package ratelimit

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// GetClientIP returns the address generation limits are keyed on.
//
// Forwarding headers are only read when trustProxy is set; otherwise any
// client could pick its own bucket. X-Forwarded-For is walked from the right
// and the first hop outside internal networks wins.
func GetClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip, ok := forwardedClient(r.Header.Get("X-Forwarded-For")); ok {
			return ip
		}
		if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
			return addr.Unmap().String()
		}
	}
	return remoteIP(r.RemoteAddr)
}

func forwardedClient(header string) (string, bool) {
	if strings.TrimSpace(header) == "" {
		return "", false
	}
	hops := strings.Split(header, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			continue
		}
		if !isInternal(addr) {
			return addr.Unmap().String(), true
		}
	}
	// Every hop is internal: the nearest one is the best we have.
	last := strings.TrimSpace(hops[len(hops)-1])
	return last, last != ""
}

func remoteIP(remoteAddr string) string {
	if addrPort, err := netip.ParseAddrPort(remoteAddr); err == nil {
		return addrPort.Addr().Unmap().String()
	}
	if addr, err := netip.ParseAddr(remoteAddr); err == nil {
		return addr.Unmap().String()
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// isInternal covers private, loopback and link-local ranges, including their
// IPv4-mapped IPv6 forms.
func isInternal(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast()
}
