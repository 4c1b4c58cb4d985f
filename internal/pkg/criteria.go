package pkg

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lastmilehq/deliverysync/internal/domain"
)

const dateQueryLayout = "2006-01-02"

// ParseFilterCriteria extracts filter criteria from list query parameters.
// Malformed values degrade to "no constraint" instead of erroring: a bad date
// or paid flag is ignored, an unknown sort key falls back to the default.
func ParseFilterCriteria(c *gin.Context) domain.FilterCriteria {
	criteria := domain.DefaultCriteria()

	criteria.Search = strings.TrimSpace(c.Query("search"))
	criteria.Status = strings.TrimSpace(c.Query("status"))
	criteria.Type = strings.TrimSpace(c.Query("type"))
	criteria.StoreID = strings.TrimSpace(c.Query("store_id"))
	criteria.CourierID = strings.TrimSpace(c.Query("courier_id"))

	if raw := c.Query("paid"); raw != "" {
		if paid, err := strconv.ParseBool(raw); err == nil {
			criteria.Paid = &paid
		}
	}

	criteria.StartDate = parseDateParam(c.Query("start_date"))
	criteria.EndDate = parseDateParam(c.Query("end_date"))

	if key, descending, ok := parseSortParam(c.Query("sort")); ok {
		criteria.SortKey = key
		criteria.Descending = descending
	}

	return criteria
}

// parseDateParam accepts a plain date or RFC 3339 timestamp.
// Anything else yields the zero time, i.e. no constraint.
func parseDateParam(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(dateQueryLayout, raw); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Time{}
}

// parseSortParam parses "field:direction", e.g. "created_at:desc".
// Unknown fields or directions are rejected and the caller keeps the default.
func parseSortParam(raw string) (domain.SortKey, bool, bool) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return "", false, false
	}

	key := domain.SortKey(strings.TrimSpace(parts[0]))
	direction := strings.TrimSpace(strings.ToLower(parts[1]))

	if !domain.ValidSortKey(key) {
		return "", false, false
	}
	if direction != "asc" && direction != "desc" {
		return "", false, false
	}
	return key, direction == "desc", true
}
