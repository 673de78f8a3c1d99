// Package tenant defines tenant identity and namespace derivation.
//
// Every piece of mail data in inboxd belongs to exactly one (org, user)
// pair, and every index operation is scoped to the namespace derived
// from that pair. Missing tenant context is an error, never an implicit
// global scope - fail closed.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrMissingTenant is returned when tenant info is missing from context.
	// This triggers fail-closed behavior - no empty results, just errors.
	ErrMissingTenant = errors.New("tenant info missing from context")

	// ErrInvalidTenant is returned when a tenant identifier is invalid.
	ErrInvalidTenant = errors.New("invalid tenant identifier")
)

// idPattern constrains org and user identifiers. Lowercase so the
// derived namespace always satisfies backend collection-name rules.
var idPattern = regexp.MustCompile(`^[a-z0-9_-]{1,24}$`)

// Tenant identifies the owner of a slice of mail data.
type Tenant struct {
	// OrgID is the organization identifier (required).
	OrgID string

	// UserID is the user identifier within the organization (required).
	UserID string
}

// Validate checks that both identifiers are present and well-formed.
func (t Tenant) Validate() error {
	if t.OrgID == "" {
		return fmt.Errorf("%w: org ID required", ErrInvalidTenant)
	}
	if t.UserID == "" {
		return fmt.Errorf("%w: user ID required", ErrInvalidTenant)
	}
	if !idPattern.MatchString(t.OrgID) {
		return fmt.Errorf("%w: org ID %q must match %s", ErrInvalidTenant, t.OrgID, idPattern.String())
	}
	if !idPattern.MatchString(t.UserID) {
		return fmt.Errorf("%w: user ID %q must match %s", ErrInvalidTenant, t.UserID, idPattern.String())
	}
	return nil
}

// Namespace returns the physical isolation unit for this tenant:
// org_{org}_user_{user}. Hyphens are mapped to underscores so the
// result is always a valid backend collection name.
func (t Tenant) Namespace() string {
	org := strings.ReplaceAll(t.OrgID, "-", "_")
	user := strings.ReplaceAll(t.UserID, "-", "_")
	return fmt.Sprintf("org_%s_user_%s", org, user)
}

// String returns a loggable representation (no PII beyond identifiers).
func (t Tenant) String() string {
	return t.OrgID + "/" + t.UserID
}

// tenantContextKey is the context key for Tenant.
type tenantContextKey struct{}

// ContextWithTenant adds a Tenant to a context.
func ContextWithTenant(ctx context.Context, t Tenant) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, t)
}

// FromContext extracts the Tenant from a context.
// Returns ErrMissingTenant if not present - fail closed.
func FromContext(ctx context.Context) (Tenant, error) {
	val := ctx.Value(tenantContextKey{})
	if val == nil {
		return Tenant{}, ErrMissingTenant
	}
	t, ok := val.(Tenant)
	if !ok {
		return Tenant{}, ErrMissingTenant
	}
	return t, nil
}

// MustFromContext extracts the Tenant from context or panics.
// Use only when tenant presence is guaranteed by the caller.
func MustFromContext(ctx context.Context) Tenant {
	t, err := FromContext(ctx)
	if err != nil {
		panic("tenant required but missing from context")
	}
	return t
}

// HasTenant reports whether a Tenant is present in the context.
func HasTenant(ctx context.Context) bool {
	_, err := FromContext(ctx)
	return err == nil
}
