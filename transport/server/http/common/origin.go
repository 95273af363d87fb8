package common

import (
	"net"
	"net/http"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ClientHost returns the browser-visible host, considering proxies.
// It looks at Forwarded, X-Forwarded-Host, then falls back to r.Host.
func ClientHost(r *http.Request) string {
	if r == nil {
		return ""
	}
	// RFC 7239 Forwarded: host=; proto=
	if fwd := r.Header.Get("Forwarded"); fwd != "" {
		// naive parse; take first host= token
		parts := strings.Split(fwd, ";")
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if strings.HasPrefix(strings.ToLower(p), "host=") {
				v := strings.TrimPrefix(p, "host=")
				v = strings.Trim(v, "\"")
				if v != "" {
					return stripPort(v)
				}
			}
		}
	}
	if xfh := r.Header.Get("X-Forwarded-Host"); xfh != "" {
		v := strings.TrimSpace(strings.Split(xfh, ",")[0])
		if v != "" {
			return stripPort(v)
		}
	}
	return stripPort(r.Host)
}

// TopDomain returns eTLD+1 for a host (e.g., app.example.co.uk -> example.co.uk).
func TopDomain(host string) (string, error) {
	if host == "" || isIP(host) || isLocalhost(host) {
		return "", nil
	}
	// Remove potential port suffix
	host = stripPort(host)
	e, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", err
	}
	// Avoid returning public suffix itself
	if e == host || e == "" {
		return "", nil
	}
	return e, nil
}

// OriginAllowed reports whether the request's Origin header is permitted by
// allowed, which may contain exact hosts (e.g. "app.example.com") or bare
// eTLD+1 suffixes (e.g. "example.com") matched against the origin's top
// domain. A request carrying no Origin header (same-origin, non-browser
// clients) is always allowed; only cross-origin browser requests are
// subject to the check.
func OriginAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(allowed) == 0 {
		return false
	}
	host := stripPort(strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://"))
	top, _ := TopDomain(host)
	for _, a := range allowed {
		if a == "*" || a == host || (top != "" && a == top) {
			return true
		}
	}
	return false
}

func isIP(h string) bool { return net.ParseIP(stripPort(h)) != nil }
func isLocalhost(h string) bool {
	h = strings.ToLower(stripPort(h))
	return h == "localhost" || strings.HasSuffix(h, ".localhost")
}
func stripPort(h string) string {
	if i := strings.IndexByte(h, ':'); i > -1 {
		return h[:i]
	}
	return h
}
