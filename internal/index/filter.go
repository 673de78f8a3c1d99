package index

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/inboxd/internal/tenant"
)

// Filter is the structured metadata filter applied to every query and
// filtered delete. The tenant pair is mandatory; everything else
// narrows the result set. All conditions combine with AND.
type Filter struct {
	// OrgID and UserID are the tenant pair. Always set by BuildFilter,
	// never by callers directly.
	OrgID  string
	UserID string

	// Sender matches the sender address exactly.
	Sender string

	// ThreadID restricts to a single conversation thread.
	ThreadID string

	// DocumentID restricts to a single document's chunks.
	DocumentID string

	// DateFrom / DateTo bound the document sent time (inclusive).
	// Zero values mean unbounded.
	DateFrom time.Time
	DateTo   time.Time
}

// FilterOptions are the caller-controllable filter fields. Tenant
// identifiers are deliberately absent: they come from the tenant
// argument of BuildFilter and cannot be injected or overridden.
type FilterOptions struct {
	Sender     string
	ThreadID   string
	DocumentID string
	DateFrom   time.Time
	DateTo     time.Time
}

// BuildFilter is the single constructor for query filters. Every
// retrieval and filtered delete goes through here so the tenant pair
// can never be omitted or spoofed.
func BuildFilter(tn tenant.Tenant, opts FilterOptions) (Filter, error) {
	if err := tn.Validate(); err != nil {
		return Filter{}, fmt.Errorf("building filter: %w", err)
	}
	if !opts.DateFrom.IsZero() && !opts.DateTo.IsZero() && opts.DateTo.Before(opts.DateFrom) {
		return Filter{}, fmt.Errorf("building filter: date_to %s before date_from %s",
			opts.DateTo.Format(time.RFC3339), opts.DateFrom.Format(time.RFC3339))
	}

	return Filter{
		OrgID:      tn.OrgID,
		UserID:     tn.UserID,
		Sender:     opts.Sender,
		ThreadID:   opts.ThreadID,
		DocumentID: opts.DocumentID,
		DateFrom:   opts.DateFrom,
		DateTo:     opts.DateTo,
	}, nil
}

// Validate checks that the filter carries the full tenant pair.
// Backends call this again before executing: defense in depth against
// a future code path that builds a Filter by hand.
func (f Filter) Validate() error {
	if f.OrgID == "" || f.UserID == "" {
		return ErrMissingTenantFilter
	}
	return nil
}

// HasDateRange reports whether either date bound is set.
func (f Filter) HasDateRange() bool {
	return !f.DateFrom.IsZero() || !f.DateTo.IsZero()
}

// EqualityConditions returns the exact-match conditions of this filter
// as key/value pairs, tenant pair included. Date bounds are excluded;
// backends handle ranges natively or locally.
func (f Filter) EqualityConditions() map[string]string {
	conds := map[string]string{
		MetaOrgID:  f.OrgID,
		MetaUserID: f.UserID,
	}
	if f.Sender != "" {
		conds[MetaSender] = f.Sender
	}
	if f.ThreadID != "" {
		conds[MetaThreadID] = f.ThreadID
	}
	if f.DocumentID != "" {
		conds[MetaDocumentID] = f.DocumentID
	}
	return conds
}
