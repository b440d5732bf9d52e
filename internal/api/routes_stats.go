package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arkadian/voicelounge/pkg/response"
)

// statsPayload is the read-only runtime snapshot served on /api/stats.
type statsPayload struct {
	ActiveChannels int `json:"active_channels"`
	AutoKickQueue  int `json:"auto_kick_queue"`
}

func registerStatsRoutes(r *gin.Engine, deps Deps) {
	api := r.Group("/api")

	api.GET("/stats", func(c *gin.Context) {
		response.Success(c, http.StatusOK, statsPayload{
			ActiveChannels: deps.Registry.Count(),
			AutoKickQueue:  deps.AutoKick.QueueDepth(),
		})
	})

	api.GET("/channels", func(c *gin.Context) {
		response.Success(c, http.StatusOK, deps.Registry.Snapshot())
	})
}
