package pkg

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lastmilehq/deliverysync/internal/domain"
)

func ctxWithQuery(t *testing.T, rawQuery string) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/api/v1/services?"+rawQuery, nil)
	return c
}

func TestParseFilterCriteria(t *testing.T) {
	t.Run("happy_defaults_with_no_params", func(t *testing.T) {
		criteria := ParseFilterCriteria(ctxWithQuery(t, ""))
		if criteria.SortKey != domain.SortCreatedAt || !criteria.Descending {
			t.Errorf("default sort = %v desc=%t, want created_at desc", criteria.SortKey, criteria.Descending)
		}
		if criteria.HasSearch() || criteria.Status != "" || criteria.Paid != nil {
			t.Errorf("unexpected constraints: %+v", criteria)
		}
	})

	t.Run("happy_full_query", func(t *testing.T) {
		criteria := ParseFilterCriteria(ctxWithQuery(t,
			"search=acme&status=pending&type=delivery&store_id=s1&courier_id=c1&paid=true&start_date=2026-06-01&end_date=2026-06-30&sort=price:asc"))

		if criteria.Search != "acme" || criteria.Status != "pending" || criteria.Type != "delivery" {
			t.Errorf("string fields: %+v", criteria)
		}
		if criteria.StoreID != "s1" || criteria.CourierID != "c1" {
			t.Errorf("scope fields: %+v", criteria)
		}
		if criteria.Paid == nil || !*criteria.Paid {
			t.Error("paid not parsed")
		}
		if !criteria.StartDate.Equal(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("StartDate = %v", criteria.StartDate)
		}
		if criteria.SortKey != domain.SortPrice || criteria.Descending {
			t.Errorf("sort = %v desc=%t, want price asc", criteria.SortKey, criteria.Descending)
		}
	})

	t.Run("happy_rfc3339_date_accepted", func(t *testing.T) {
		criteria := ParseFilterCriteria(ctxWithQuery(t, "start_date=2026-06-01T08:30:00Z"))
		if criteria.StartDate.IsZero() {
			t.Error("RFC 3339 date rejected")
		}
	})

	t.Run("error_malformed_values_degrade_to_no_constraint", func(t *testing.T) {
		criteria := ParseFilterCriteria(ctxWithQuery(t,
			"paid=maybe&start_date=junk&end_date=31-12-2026&sort=address:desc"))

		if criteria.Paid != nil {
			t.Errorf("Paid = %v, want nil", *criteria.Paid)
		}
		if !criteria.StartDate.IsZero() || !criteria.EndDate.IsZero() {
			t.Errorf("dates = %v / %v, want zero", criteria.StartDate, criteria.EndDate)
		}
		// Unknown sort key keeps the default.
		if criteria.SortKey != domain.SortCreatedAt || !criteria.Descending {
			t.Errorf("sort = %v desc=%t, want created_at desc", criteria.SortKey, criteria.Descending)
		}
	})

	t.Run("error_sort_without_direction_rejected", func(t *testing.T) {
		criteria := ParseFilterCriteria(ctxWithQuery(t, "sort=price"))
		if criteria.SortKey != domain.SortCreatedAt {
			t.Errorf("SortKey = %v, want default", criteria.SortKey)
		}
	})
}
