package auth

import (
	"net/http"
	"strings"
)

// Policy determines required roles by request.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds a default policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt returns true when a request should skip auth/RBAC.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole resolves the required role for the request.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	path := r.URL.Path

	switch {
	case strings.HasPrefix(path, "/api/v1/admin/"):
		return RoleAdmin, true
	case strings.HasPrefix(path, "/api/v1/exports/"):
		return RoleAdmin, true
	case path == "/api/v1/rewards/pending",
		path == "/api/v1/rewards/claim",
		path == "/api/v1/rewards/history":
		return RoleUser, true
	case strings.HasPrefix(path, "/api/v1/rewards/claims/"):
		return RoleUser, true
	case strings.HasPrefix(path, "/api/v1/devices"):
		return RoleUser, true
	}

	if strings.HasPrefix(path, "/api/") {
		return RoleUser, true
	}
	return "", false
}
