package services

import (
	"time"

	"github.com/lastmilehq/deliverysync/internal/domain"
	"github.com/lastmilehq/deliverysync/internal/mirror"
)

// FilterRequest represents a partial filter change. Absent fields leave the
// corresponding filter untouched; a field set to its zero value clears it.
type FilterRequest struct {
	Status     *string `json:"status" binding:"omitempty,oneof=pending assigned in_transit completed cancelled"`
	Type       *string `json:"type" binding:"omitempty,oneof=delivery pickup return"`
	StoreID    *string `json:"store_id" binding:"omitempty,max=64"`
	CourierID  *string `json:"courier_id" binding:"omitempty,max=64"`
	Paid       *bool   `json:"paid"`
	ClearPaid  bool    `json:"clear_paid"`
	StartDate  *string `json:"start_date" binding:"omitempty,datetime=2006-01-02"`
	EndDate    *string `json:"end_date" binding:"omitempty,datetime=2006-01-02"`
	Sort       *string `json:"sort" binding:"omitempty,oneof=created_at completed_at price customer_name status"`
	Descending *bool   `json:"descending"`
}

// Patch converts the validated request into a domain filter patch.
func (r FilterRequest) Patch() domain.FilterPatch {
	p := domain.FilterPatch{
		Status:     r.Status,
		Type:       r.Type,
		StoreID:    r.StoreID,
		CourierID:  r.CourierID,
		Descending: r.Descending,
	}

	if r.ClearPaid {
		p.PaidSet = true
	} else if r.Paid != nil {
		p.Paid = r.Paid
		p.PaidSet = true
	}

	if r.StartDate != nil {
		t := parseRequestDate(*r.StartDate)
		p.StartDate = &t
	}
	if r.EndDate != nil {
		t := parseRequestDate(*r.EndDate)
		p.EndDate = &t
	}
	if r.Sort != nil {
		key := domain.SortKey(*r.Sort)
		p.SortKey = &key
	}
	return p
}

// parseRequestDate parses an already-validated "2006-01-02" date.
// An empty string clears the bound.
func parseRequestDate(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SearchRequest carries an interactive search term. An empty term clears the
// current search.
type SearchRequest struct {
	Term string `json:"term" binding:"max=100"`
}

// StateResponse is the JSON shape of the derived list state.
type StateResponse struct {
	Services    []domain.Service `json:"services"`
	Total       int              `json:"total"`
	FullyLoaded bool             `json:"fully_loaded"`
	Loading     bool             `json:"loading"`
	LoadingMore bool             `json:"loading_more"`
	Error       string           `json:"error,omitempty"`
}

// NewStateResponse converts a controller state snapshot into its API shape.
func NewStateResponse(st mirror.State) StateResponse {
	resp := StateResponse{
		Services:    st.Visible,
		Total:       st.Total,
		FullyLoaded: st.FullyLoaded,
		Loading:     st.Loading,
		LoadingMore: st.LoadingMore,
	}
	if resp.Services == nil {
		resp.Services = []domain.Service{}
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return resp
}
