package services

import "github.com/gin-gonic/gin"

// Module implements the app.Module interface for the mirrored service list.
type Module struct {
	handler *Handler
}

// NewModule creates a new Module with the given handler.
// Panics if h is nil.
func NewModule(h *Handler) *Module {
	if h == nil {
		panic("services.NewModule: handler must not be nil")
	}
	return &Module{handler: h}
}

// RegisterRoutes registers the service-list API routes.
func (m *Module) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/services", m.handler.List)
	api.GET("/services/:id", m.handler.Get)
	api.POST("/services/more", m.handler.More)
	api.POST("/services/refresh", m.handler.Refresh)
	api.POST("/services/search", m.handler.Search)
	api.PUT("/services/filters", m.handler.SetFilters)
	api.DELETE("/services/filters", m.handler.ClearFilters)
}
