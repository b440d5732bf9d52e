package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func registerHealthRoutes(r *gin.Engine, db *gorm.DB) {
	r.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		healthy := true

		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status = http.StatusServiceUnavailable
			healthy = false
		}

		c.JSON(status, gin.H{
			"success":    healthy,
			"checked_at": time.Now().UTC(),
		})
	})
}
