// Package api exposes the local admin surface: health, metrics and
// read-only runtime stats.
package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arkadian/voicelounge/internal/services"
	"github.com/arkadian/voicelounge/pkg/logger"
)

// Deps carries everything the router reads from. The surface is read-only;
// all mutations flow through the gateway and command paths.
type Deps struct {
	DB       *gorm.DB
	Registry *services.ChannelRegistry
	AutoKick *services.AutoKickCoordinator
}

// NewRouter builds the Gin engine for the admin port.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("channel registry must be provided")
	}
	if deps.AutoKick == nil {
		return nil, fmt.Errorf("autokick coordinator must be provided")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	registerHealthRoutes(r, deps.DB)
	registerStatsRoutes(r, deps)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r, nil
}

// requestLogger logs each request through the module logger instead of
// gin's default writer.
func requestLogger() gin.HandlerFunc {
	log := logger.WithModule("api")
	return func(c *gin.Context) {
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()))
	}
}
