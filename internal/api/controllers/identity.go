package controllers

import (
	"github.com/gin-gonic/gin"
	"payledger/internal/services"
	"payledger/pkg/middleware"
	"payledger/pkg/utils"
)

// identityFrom reads the identity the JWT middleware put on the context.
func identityFrom(c *gin.Context) services.Identity {
	return services.Identity{
		UserID:  c.GetString(middleware.CtxUserID),
		IsAdmin: c.GetString(middleware.CtxRole) == utils.RoleAdmin,
	}
}
