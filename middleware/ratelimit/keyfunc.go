package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// IdentifierFunc maps a request to the key it is counted under.
type IdentifierFunc func(r *http.Request) string

// SkipFunc reports whether a request bypasses accounting entirely.
type SkipFunc func(r *http.Request) bool

// UnknownIdentifier is the shared bucket for requests with no usable address.
const UnknownIdentifier = "unknown"

// DefaultIdentifier keys a request by the client address announced by the
// proxy in front of the service: the first X-Forwarded-For entry, then
// X-Real-IP, else UnknownIdentifier.
func DefaultIdentifier(r *http.Request) string {
	if ip := firstForwardedFor(r); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return UnknownIdentifier
}

// HeaderIdentifier prefers keyHeader (an API key, tenant id...), then the first
// X-Forwarded-For entry when trustXFF is set, then the host part of RemoteAddr.
func HeaderIdentifier(keyHeader string, trustXFF bool) IdentifierFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			if ip := firstForwardedFor(r); ip != "" {
				return ip
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return UnknownIdentifier
	}
}

// HeaderEquals returns a SkipFunc matching requests whose header equals value.
// An empty value never matches.
func HeaderEquals(header, value string) SkipFunc {
	return func(r *http.Request) bool {
		return value != "" && r.Header.Get(header) == value
	}
}

func firstForwardedFor(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return ""
	}
	first, _, _ := strings.Cut(xff, ",")
	return strings.TrimSpace(first)
}
