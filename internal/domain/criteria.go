package domain

import (
	"fmt"
	"strings"
	"time"
)

// SortKey identifies a field the visible list can be ordered by.
type SortKey string

// Supported sort keys. Unknown keys fall back to SortCreatedAt descending.
const (
	SortCreatedAt    SortKey = "created_at"
	SortCompletedAt  SortKey = "completed_at"
	SortPrice        SortKey = "price"
	SortCustomerName SortKey = "customer_name"
	SortStatus       SortKey = "status"
)

// ValidSortKey reports whether k is one of the supported sort keys.
func ValidSortKey(k SortKey) bool {
	switch k {
	case SortCreatedAt, SortCompletedAt, SortPrice, SortCustomerName, SortStatus:
		return true
	}
	return false
}

// FilterCriteria is an immutable value describing how the visible list is
// derived from the full record set. Zero values mean "no constraint":
// empty strings for the exact-match fields, nil for Paid, and zero times
// for the date bounds. StartDate is inclusive; EndDate is inclusive through
// the end of its calendar day.
type FilterCriteria struct {
	Search     string
	Status     string
	Type       string
	StoreID    string
	CourierID  string
	Paid       *bool
	StartDate  time.Time
	EndDate    time.Time
	SortKey    SortKey
	Descending bool
}

// DefaultCriteria returns the criteria applied when no filters are active:
// everything visible, newest first.
func DefaultCriteria() FilterCriteria {
	return FilterCriteria{SortKey: SortCreatedAt, Descending: true}
}

// HasSearch reports whether the criteria carry a non-blank search term.
func (c FilterCriteria) HasSearch() bool {
	return strings.TrimSpace(c.Search) != ""
}

// Remote builds the server-evaluable query for this criteria at the given
// page window.
func (c FilterCriteria) Remote(limit, offset int) RemoteQuery {
	return RemoteQuery{
		Limit:      limit,
		Offset:     offset,
		Search:     strings.TrimSpace(c.Search),
		Status:     c.Status,
		Type:       c.Type,
		StoreID:    c.StoreID,
		CourierID:  c.CourierID,
		Paid:       c.Paid,
		StartDate:  c.StartDate,
		EndDate:    c.EndDate,
		SortKey:    c.SortKey,
		Descending: c.Descending,
	}
}

// FilterPatch is a partial FilterCriteria used to merge individual filter
// changes into the current criteria. Nil fields are left unchanged; to clear
// a single filter, set its pointer to the zero value.
type FilterPatch struct {
	Status     *string
	Type       *string
	StoreID    *string
	CourierID  *string
	Paid       *bool
	PaidSet    bool // distinguishes "set Paid to nil" from "leave Paid alone"
	StartDate  *time.Time
	EndDate    *time.Time
	SortKey    *SortKey
	Descending *bool
}

// Merge returns a new criteria with the patch applied on top of c.
// The search term is never touched by a filter patch.
func (p FilterPatch) Merge(c FilterCriteria) FilterCriteria {
	out := c
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.Type != nil {
		out.Type = *p.Type
	}
	if p.StoreID != nil {
		out.StoreID = *p.StoreID
	}
	if p.CourierID != nil {
		out.CourierID = *p.CourierID
	}
	if p.PaidSet {
		out.Paid = p.Paid
	}
	if p.StartDate != nil {
		out.StartDate = *p.StartDate
	}
	if p.EndDate != nil {
		out.EndDate = *p.EndDate
	}
	if p.SortKey != nil {
		out.SortKey = *p.SortKey
	}
	if p.Descending != nil {
		out.Descending = *p.Descending
	}
	return out
}

// RemoteQuery is the subset of FilterCriteria the remote source evaluates
// server-side, plus the page window.
type RemoteQuery struct {
	Limit      int
	Offset     int
	Search     string
	Status     string
	Type       string
	StoreID    string
	CourierID  string
	Paid       *bool
	StartDate  time.Time
	EndDate    time.Time
	SortKey    SortKey
	Descending bool
}

// Key returns a canonical identity for the server-side slice this query
// selects, excluding the page window. Two loads with equal keys request the
// same slice and differ only in offset.
func (q RemoteQuery) Key() string {
	paid := "-"
	if q.Paid != nil {
		paid = fmt.Sprintf("%t", *q.Paid)
	}
	return fmt.Sprintf("s=%s|st=%s|ty=%s|sid=%s|cid=%s|p=%s|from=%d|to=%d|k=%s|d=%t",
		q.Search, q.Status, q.Type, q.StoreID, q.CourierID, paid,
		q.StartDate.UnixMilli(), q.EndDate.UnixMilli(), q.SortKey, q.Descending)
}

// Page is one window of the remote collection together with the total number
// of records the remote source knows about for the query.
type Page struct {
	Items []Service
	Total int
}
