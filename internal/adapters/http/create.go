package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mkravets/Beam/internal/config"
	"github.com/mkravets/Beam/internal/domain"
	"github.com/mkravets/Beam/internal/ratelimit"
	"github.com/mkravets/Beam/internal/registry"
)

type createRequest struct {
	Password string `json:"password"`
}

// GlobalLimitMiddleware caps overall request volume per source IP.
func GlobalLimitMiddleware(limiter *ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow("global:"+c.ClientIP(), cfg.GlobalWindow, cfg.GlobalMax) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests from this IP, try again later.",
			})
			return
		}
		c.Next()
	}
}

// CreateLimitMiddleware caps room creations per source IP.
func CreateLimitMiddleware(limiter *ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow("create:"+c.ClientIP(), cfg.CreateWindow, cfg.CreateMax) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many create requests from this IP, try again later.",
			})
			return
		}
		c.Next()
	}
}

// CreateRoomHandler installs a new password-protected room. This runs
// outside the real-time channel: the creator connects over WebSocket and
// joins like everyone else afterwards.
func CreateRoomHandler(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := domain.RoomID(c.Param("roomId"))
		if roomID == "" || len(roomID) > domain.MaxRoomIDLen {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room ID"})
			return
		}

		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Password required"})
			return
		}

		err := reg.Create(roomID, req.Password)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"success": true, "roomId": string(roomID)})
		case errors.Is(err, domain.ErrRoomExists):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Room already exists"})
		case errors.Is(err, domain.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Password required"})
		default:
			log.Error().Err(err).Str("module", "adapters.http").Str("room", string(roomID)).Msg("create room")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		}
	}
}
