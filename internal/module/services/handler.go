package services

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/lastmilehq/deliverysync/internal/domain"
	"github.com/lastmilehq/deliverysync/internal/middleware"
	"github.com/lastmilehq/deliverysync/internal/mirror"
	"github.com/lastmilehq/deliverysync/internal/pkg"
)

// Syncer is the controller surface the HTTP layer consumes.
type Syncer interface {
	Load(ctx context.Context, criteria domain.FilterCriteria, appendPage bool) error
	LoadMore(ctx context.Context) error
	Refresh(ctx context.Context) error
	Search(term string)
	SetFilter(patch domain.FilterPatch)
	ClearFilters()
	GetDetail(ctx context.Context, id string) (*domain.Service, error)
	Criteria() domain.FilterCriteria
	State() mirror.State
}

// Handler exposes the mirrored service list over REST.
type Handler struct {
	ctrl Syncer
}

// NewHandler creates a Handler backed by the given sync controller.
func NewHandler(ctrl Syncer) *Handler {
	return &Handler{ctrl: ctrl}
}

// List handles GET /api/v1/services. Query parameters become the active
// criteria and the visible list is brought up to date before responding.
func (h *Handler) List(c *gin.Context) {
	criteria := pkg.ParseFilterCriteria(c)
	scopeCriteria(c, &criteria)

	if err := h.ctrl.Load(c.Request.Context(), criteria, false); err != nil {
		pkg.Error(c, err)
		return
	}
	pkg.Success(c, NewStateResponse(h.ctrl.State()))
}

// Get handles GET /api/v1/services/:id. Details are always fetched from the
// remote source; the list cache is not consulted.
func (h *Handler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		pkg.Error(c, domain.NewAppError(domain.CodeValidation, "service id is required", nil))
		return
	}

	svc, err := h.ctrl.GetDetail(c.Request.Context(), id)
	if err != nil {
		pkg.Error(c, err)
		return
	}
	pkg.Success(c, svc)
}

// More handles POST /api/v1/services/more and fetches the next page for the
// current criteria.
func (h *Handler) More(c *gin.Context) {
	if err := h.ctrl.LoadMore(c.Request.Context()); err != nil {
		pkg.Error(c, err)
		return
	}
	pkg.Success(c, NewStateResponse(h.ctrl.State()))
}

// Refresh handles POST /api/v1/services/refresh and forces a page-one fetch.
func (h *Handler) Refresh(c *gin.Context) {
	if err := h.ctrl.Refresh(c.Request.Context()); err != nil {
		pkg.Error(c, err)
		return
	}
	pkg.Success(c, NewStateResponse(h.ctrl.State()))
}

// Search handles POST /api/v1/services/search. The remote round-trip is
// debounced inside the controller, so the returned state reflects the current
// cache filtered by the new term, not the eventual server result.
func (h *Handler) Search(c *gin.Context) {
	var req SearchRequest
	if !pkg.BindAndValidate(c, &req) {
		return
	}

	h.ctrl.Search(req.Term)
	pkg.Success(c, NewStateResponse(h.ctrl.State()))
}

// SetFilters handles PUT /api/v1/services/filters. Filters apply locally with
// no network round-trip.
func (h *Handler) SetFilters(c *gin.Context) {
	var req FilterRequest
	if !pkg.BindAndValidate(c, &req) {
		return
	}

	patch := req.Patch()
	scopePatch(c, &patch)
	h.ctrl.SetFilter(patch)
	pkg.Success(c, NewStateResponse(h.ctrl.State()))
}

// ClearFilters handles DELETE /api/v1/services/filters. Party-scoped callers
// keep their forced scope after the reset.
func (h *Handler) ClearFilters(c *gin.Context) {
	h.ctrl.ClearFilters()

	patch := domain.FilterPatch{}
	scopePatch(c, &patch)
	if patch.StoreID != nil || patch.CourierID != nil {
		h.ctrl.SetFilter(patch)
	}
	pkg.Success(c, NewStateResponse(h.ctrl.State()))
}

// scopeCriteria pins party-bound callers to their own records. Coordinators
// see everything.
func scopeCriteria(c *gin.Context, criteria *domain.FilterCriteria) {
	partyID := middleware.GetPartyID(c)
	if partyID == "" {
		return
	}
	switch middleware.GetRole(c) {
	case middleware.RoleStore:
		criteria.StoreID = partyID
	case middleware.RoleCourier:
		criteria.CourierID = partyID
	}
}

// scopePatch overrides any requested store or courier filter for party-bound
// callers.
func scopePatch(c *gin.Context, patch *domain.FilterPatch) {
	partyID := middleware.GetPartyID(c)
	if partyID == "" {
		return
	}
	switch middleware.GetRole(c) {
	case middleware.RoleStore:
		patch.StoreID = &partyID
	case middleware.RoleCourier:
		patch.CourierID = &partyID
	}
}
