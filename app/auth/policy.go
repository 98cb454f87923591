package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/gatekeeper/app/store"
)

// ErrResourceNotFound is returned by PolicyResolver for resources missing in the registry.
var ErrResourceNotFound = errors.New("resource not found")

// AuthProfile names the credential combination a resource demands.
// Values outside the known set are kept as-is and always deny.
type AuthProfile string

// known auth profiles
const (
	ProfileJWTOnly      AuthProfile = "JWT_ONLY"
	ProfileAPIKeyOnly   AuthProfile = "APIKEY_ONLY"
	ProfileEither       AuthProfile = "EITHER"
	ProfileJWTAndAPIKey AuthProfile = "JWT_AND_APIKEY"
)

// Known checks if the profile is one of the supported values.
func (p AuthProfile) Known() bool {
	switch p {
	case ProfileJWTOnly, ProfileAPIKeyOnly, ProfileEither, ProfileJWTAndAPIKey:
		return true
	}
	return false
}

// ValidateProfile reports whether the verified credentials satisfy the profile.
func ValidateProfile(profile AuthProfile, hasToken, hasKey bool) bool {
	switch profile {
	case ProfileJWTOnly:
		return hasToken && !hasKey
	case ProfileAPIKeyOnly:
		return hasKey && !hasToken
	case ProfileEither:
		return hasToken || hasKey
	case ProfileJWTAndAPIKey:
		return hasToken && hasKey
	default:
		log.Printf("[WARN] misconfigured auth profile %q, access denied", string(profile))
		return false
	}
}

// ResourcePolicy is the resolved policy for a resource with defaults applied.
type ResourcePolicy struct {
	Resource    string
	AuthProfile AuthProfile
	RequireHMAC bool
	IPAllowlist []netip.Prefix
}

// ResourceFunc picks the target resource name from a request.
type ResourceFunc func(r *http.Request) string

// PathResource returns a ResourceFunc taking the first path segment after mount, i.e. "/api/".
func PathResource(mount string) ResourceFunc {
	prefix := "/" + strings.Trim(mount, "/") + "/"
	if prefix == "//" {
		prefix = "/"
	}
	return func(r *http.Request) string {
		rest, ok := strings.CutPrefix(r.URL.Path, prefix)
		if !ok {
			return ""
		}
		name, _, _ := strings.Cut(rest, "/")
		return name
	}
}

// PolicyResolver fetches resource policies from the registry.
type PolicyResolver struct {
	registry Registry
}

// NewPolicyResolver makes a resolver on top of the registry.
func NewPolicyResolver(registry Registry) *PolicyResolver {
	return &PolicyResolver{registry: registry}
}

// Resolve returns the policy for resource. Missing profile defaults to EITHER.
// Returns ErrResourceNotFound if the registry doesn't know the resource.
func (p *PolicyResolver) Resolve(ctx context.Context, resource string) (ResourcePolicy, error) {
	if resource == "" {
		return ResourcePolicy{}, ErrResourceNotFound
	}
	rec, err := p.registry.GetResourcePolicy(ctx, resource)
	if errors.Is(err, store.ErrNotFound) {
		return ResourcePolicy{}, ErrResourceNotFound
	}
	if err != nil {
		return ResourcePolicy{}, fmt.Errorf("failed to get policy for %q: %w", resource, err)
	}

	res := ResourcePolicy{Resource: resource, AuthProfile: AuthProfile(strings.TrimSpace(rec.AuthProfile)),
		RequireHMAC: rec.RequireHMAC}
	if res.AuthProfile == "" {
		res.AuthProfile = ProfileEither
	}
	if res.IPAllowlist, err = ParsePrefixes(rec.IPAllowlist); err != nil {
		return ResourcePolicy{}, fmt.Errorf("bad ip allowlist for %q: %w", resource, err)
	}
	return res, nil
}

// ParsePrefixes parses CIDR entries, bare addresses are taken as single-host prefixes.
func ParsePrefixes(items []string) ([]netip.Prefix, error) {
	if len(items) == 0 {
		return nil, nil
	}
	res := make([]netip.Prefix, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if !strings.Contains(it, "/") {
			addr, err := netip.ParseAddr(it)
			if err != nil {
				return nil, fmt.Errorf("invalid address %q: %w", it, err)
			}
			addr = addr.Unmap()
			res = append(res, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		pfx, err := netip.ParsePrefix(it)
		if err != nil {
			return nil, fmt.Errorf("invalid cidr %q: %w", it, err)
		}
		res = append(res, pfx.Masked())
	}
	return res, nil
}
