package domain

import "time"

// Service status values reported by the coordination backend.
const (
	StatusPending   = "pending"
	StatusAssigned  = "assigned"
	StatusInTransit = "in_transit"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Service type values reported by the coordination backend.
const (
	TypeDelivery = "delivery"
	TypePickup   = "pickup"
	TypeReturn   = "return"
)

// Service is one delivery order tracked by the mirror. The backend owns all
// business logic; locally a Service is an opaque record identified by ID,
// plus the handful of fields the filter engine inspects.
type Service struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	CustomerName  string    `gorm:"size:255" json:"customer_name"`
	CustomerPhone string    `gorm:"size:32" json:"customer_phone"`
	Address       string    `gorm:"size:512" json:"address"`
	StoreID       string    `gorm:"size:64;index" json:"store_id"`
	StoreName     string    `gorm:"size:255" json:"store_name"`
	CourierID     string    `gorm:"size:64;index" json:"courier_id"`
	Status        string    `gorm:"size:32;index" json:"status"`
	Type          string    `gorm:"size:32" json:"type"`
	Paid          bool      `json:"paid"`
	Price         float64   `json:"price"`
	CreatedAt     time.Time `json:"created_at"`
	CompletedAt   time.Time `json:"completed_at"`
}

// EffectiveTime returns the timestamp used for date-range filtering and
// time-based sorting: the completion time when set, otherwise the creation time.
func (s *Service) EffectiveTime() time.Time {
	if !s.CompletedAt.IsZero() {
		return s.CompletedAt
	}
	return s.CreatedAt
}

// ServicePatch is a partial Service. Change-feed events carry patches rather
// than full records; a nil field means "not included", never "cleared".
type ServicePatch struct {
	CustomerName  *string    `json:"customer_name,omitempty"`
	CustomerPhone *string    `json:"customer_phone,omitempty"`
	Address       *string    `json:"address,omitempty"`
	StoreID       *string    `json:"store_id,omitempty"`
	StoreName     *string    `json:"store_name,omitempty"`
	CourierID     *string    `json:"courier_id,omitempty"`
	Status        *string    `json:"status,omitempty"`
	Type          *string    `json:"type,omitempty"`
	Paid          *bool      `json:"paid,omitempty"`
	Price         *float64   `json:"price,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Apply merges the patch into s. Only non-nil fields are written, so applying
// the same patch twice leaves s in the same state as applying it once.
func (p *ServicePatch) Apply(s *Service) {
	if p == nil || s == nil {
		return
	}
	if p.CustomerName != nil {
		s.CustomerName = *p.CustomerName
	}
	if p.CustomerPhone != nil {
		s.CustomerPhone = *p.CustomerPhone
	}
	if p.Address != nil {
		s.Address = *p.Address
	}
	if p.StoreID != nil {
		s.StoreID = *p.StoreID
	}
	if p.StoreName != nil {
		s.StoreName = *p.StoreName
	}
	if p.CourierID != nil {
		s.CourierID = *p.CourierID
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.Type != nil {
		s.Type = *p.Type
	}
	if p.Paid != nil {
		s.Paid = *p.Paid
	}
	if p.Price != nil {
		s.Price = *p.Price
	}
	if p.CreatedAt != nil {
		s.CreatedAt = *p.CreatedAt
	}
	if p.CompletedAt != nil {
		s.CompletedAt = *p.CompletedAt
	}
}

// Materialize builds a new Service with the given id from the patch.
// Used for INSERT events, whose payload carries a complete record.
func (p *ServicePatch) Materialize(id string) Service {
	s := Service{ID: id}
	p.Apply(&s)
	return s
}
