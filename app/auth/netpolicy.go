package auth

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type peerKey struct{}

// PeerAddr keeps the TCP peer address of the request. It has to run before rest.RealIP,
// forwarding headers are set by the client and never reach the allowlist check.
func PeerAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), peerKey{}, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// peerAddr returns the address saved by PeerAddr, or RemoteAddr if the middleware is not in the chain
func peerAddr(r *http.Request) string {
	if addr, ok := r.Context().Value(peerKey{}).(string); ok {
		return addr
	}
	return r.RemoteAddr
}

// AllowIP checks the caller address against the allowlist. The address is taken as "ip" or "ip:port",
// unparseable addresses are never allowed.
func AllowIP(remoteAddr string, allowlist []netip.Prefix) bool {
	addr, ok := parseRemoteAddr(remoteAddr)
	if !ok {
		return false
	}
	for _, pfx := range allowlist {
		if pfx.Contains(addr) {
			return true
		}
	}
	return false
}

func parseRemoteAddr(remoteAddr string) (netip.Addr, bool) {
	remoteAddr = strings.TrimSpace(remoteAddr)
	if addr, err := netip.ParseAddr(strings.Trim(remoteAddr, "[]")); err == nil {
		return addr.Unmap(), true
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
