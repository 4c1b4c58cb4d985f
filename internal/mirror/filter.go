package mirror

import (
	"sort"
	"strings"
	"time"

	"github.com/lastmilehq/deliverysync/internal/domain"
)

// Apply derives the visible list from the full record set. It is a pure
// function: no side effects, and identical inputs always produce identical
// output. Stages run in a fixed order — search, exact-match fields, date
// range, sort — because each narrows or reorders the previous stage's output.
func Apply(records []domain.Service, c domain.FilterCriteria) []domain.Service {
	out := make([]domain.Service, 0, len(records))
	term := strings.ToLower(strings.TrimSpace(c.Search))

	for i := range records {
		s := records[i]
		if term != "" && !matchesSearch(&s, term) {
			continue
		}
		if !matchesExact(&s, c) {
			continue
		}
		if !matchesDateRange(&s, c.StartDate, c.EndDate) {
			continue
		}
		out = append(out, s)
	}

	sortServices(out, c.SortKey, c.Descending)
	return out
}

// searchFields is the fixed, ordered list of fields the free-text search
// inspects. A record matches when any field contains the term.
func matchesSearch(s *domain.Service, term string) bool {
	for _, field := range []string{
		s.CustomerName,
		s.CustomerPhone,
		s.Address,
		s.StoreName,
		s.ID,
	} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}

// matchesExact ANDs every present exact-match criterion. Absent criteria
// impose no constraint.
func matchesExact(s *domain.Service, c domain.FilterCriteria) bool {
	if c.Status != "" && s.Status != c.Status {
		return false
	}
	if c.Type != "" && s.Type != c.Type {
		return false
	}
	if c.StoreID != "" && s.StoreID != c.StoreID {
		return false
	}
	if c.CourierID != "" && s.CourierID != c.CourierID {
		return false
	}
	if c.Paid != nil && s.Paid != *c.Paid {
		return false
	}
	return true
}

// matchesDateRange checks the record's effective timestamp against
// [start, end-of-day(end)]. Both bounds are inclusive; an absent (zero) bound
// is unconstrained on that side. A record with no usable timestamp fails a
// bounded filter rather than erroring.
func matchesDateRange(s *domain.Service, start, end time.Time) bool {
	if start.IsZero() && end.IsZero() {
		return true
	}
	t := s.EffectiveTime()
	if t.IsZero() {
		return false
	}
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() {
		// End of the calendar day: anything strictly before the next day's
		// midnight is in range, which keeps 23:59:59.999 inclusive.
		dayEnd := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, end.Location()).AddDate(0, 0, 1)
		if !t.Before(dayEnd) {
			return false
		}
	}
	return true
}

// sortServices orders the list by the requested key. The sort is stable, so
// records with equal keys keep their relative insertion order. Unknown keys
// fall back to creation time, descending.
func sortServices(items []domain.Service, key domain.SortKey, descending bool) {
	if !domain.ValidSortKey(key) {
		key = domain.SortCreatedAt
		descending = true
	}

	var less func(a, b *domain.Service) bool
	switch key {
	case domain.SortCompletedAt:
		less = func(a, b *domain.Service) bool { return a.CompletedAt.Before(b.CompletedAt) }
	case domain.SortPrice:
		less = func(a, b *domain.Service) bool { return a.Price < b.Price }
	case domain.SortCustomerName:
		less = func(a, b *domain.Service) bool {
			return strings.ToLower(a.CustomerName) < strings.ToLower(b.CustomerName)
		}
	case domain.SortStatus:
		less = func(a, b *domain.Service) bool { return a.Status < b.Status }
	default:
		less = func(a, b *domain.Service) bool { return a.CreatedAt.Before(b.CreatedAt) }
	}

	sort.SliceStable(items, func(i, j int) bool {
		if descending {
			return less(&items[j], &items[i])
		}
		return less(&items[i], &items[j])
	})
}
