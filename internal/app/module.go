package app

import "github.com/gin-gonic/gin"

// Module is a self-contained feature that registers its own routes.
// Feature packages under internal/module implement this interface and are
// wired in New.
type Module interface {
	RegisterRoutes(api *gin.RouterGroup)
}
