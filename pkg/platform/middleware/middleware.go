// Package middleware holds the chi middleware that populates requestcontext.
//
// Authentication happens at the gateway in front of this service. The gateway
// forwards the verified actor in X-Actor-* headers, which Actor copies into
// the request context.
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	id "careverify/pkg/domain"
	"careverify/pkg/requestcontext"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
	HeaderActorOrg  = "X-Actor-Org"
)

var knownRoles = map[requestcontext.Role]struct{}{
	requestcontext.RoleHospital: {},
	requestcontext.RoleReviewer: {},
	requestcontext.RoleInsurer:  {},
	requestcontext.RoleAdmin:    {},
}

// RequestID propagates an incoming X-Request-ID or mints one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if reqID == "" || len(reqID) > 128 {
			reqID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, reqID)
		next.ServeHTTP(w, r.WithContext(requestcontext.WithRequestID(r.Context(), reqID)))
	})
}

// RequestTime captures one "now" for the whole request.
func RequestTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientMetadata records the client IP and a compact user agent description.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientMetadata(r.Context(), ClientIPFromRequest(r), DescribeUserAgent(r.Header.Get("User-Agent")))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Actor copies gateway-verified actor headers into the context. Invalid or
// missing headers leave the request anonymous; handlers decide whether that is allowed.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if actor, err := id.ParseUserID(r.Header.Get(HeaderActorID)); err == nil {
			role := requestcontext.Role(strings.TrimSpace(r.Header.Get(HeaderActorRole)))
			if _, ok := knownRoles[role]; ok {
				ctx = requestcontext.WithActor(ctx, actor, role)
			}
		}
		if org, err := id.ParseOrgID(r.Header.Get(HeaderActorOrg)); err == nil {
			ctx = requestcontext.WithActorOrg(ctx, org)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DescribeUserAgent reduces a raw User-Agent to "browser version/os", or "bot:name".
func DescribeUserAgent(raw string) string {
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	if ua.Bot() {
		name, _ := ua.Browser()
		return "bot:" + name
	}
	name, version := ua.Browser()
	desc := strings.TrimSpace(name + " " + version)
	if osName := ua.OS(); osName != "" {
		desc += "/" + osName
	}
	if desc == "" {
		return "unknown"
	}
	return desc
}

// ClientIPFromRequest extracts the real client IP, honoring proxy headers.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}
	return ""
}
