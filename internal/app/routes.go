package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lastmilehq/deliverysync/internal/mirror"
	"github.com/lastmilehq/deliverysync/internal/pkg"
)

// RouteDeps holds all dependencies needed to register routes.
type RouteDeps struct {
	Modules []Module
	DB      *gorm.DB // nil when the snapshot store is disabled
	Ctrl    *mirror.Controller
}

// RegisterRoutes registers all application routes on the given gin.Engine.
func RegisterRoutes(r *gin.Engine, deps *RouteDeps) error {
	if r == nil {
		return errors.New("router is nil")
	}
	if deps == nil {
		return errors.New("route dependencies are nil")
	}
	if len(deps.Modules) == 0 {
		return errors.New("at least one module is required")
	}

	r.GET("/health", healthHandler(deps.DB, deps.Ctrl))

	api := r.Group("/api/v1")
	for i, m := range deps.Modules {
		if m == nil {
			return fmt.Errorf("module at index %d is nil", i)
		}
		m.RegisterRoutes(api)
	}

	r.NoRoute(noRouteHandler())

	return nil
}

// healthHandler reports the mirror state and snapshot store reachability.
// A broken snapshot store degrades health but never fails it: the mirror
// serves from memory regardless.
func healthHandler(db *gorm.DB, ctrl *mirror.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		code := http.StatusOK

		snapshotStatus := "disabled"
		if db != nil {
			snapshotStatus = "ok"
			sqlDB, err := db.DB()
			if err != nil {
				snapshotStatus = "error"
				status = "degraded"
			} else {
				ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
				defer cancel()
				if err := sqlDB.PingContext(ctx); err != nil {
					snapshotStatus = "error"
					status = "degraded"
				}
			}
		}

		mirrorComponent := gin.H{"status": "error"}
		if ctrl != nil {
			st := ctrl.State()
			mirrorComponent = gin.H{
				"status":       "ok",
				"records":      len(st.Visible),
				"total":        st.Total,
				"fully_loaded": st.FullyLoaded,
			}
		} else {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status": status,
			"components": gin.H{
				"snapshot": snapshotStatus,
				"mirror":   mirrorComponent,
			},
		})
	}
}

// noRouteHandler returns a JSON 404 for unknown paths.
func noRouteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusNotFound, pkg.Response{Code: http.StatusNotFound, Message: "not found"})
	}
}
