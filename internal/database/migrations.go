package database

import (
	"gorm.io/gorm"

	"github.com/arkadian/voicelounge/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ChannelPermission{},
		&models.AutoKick{},
		&models.ActiveChannel{},
		&models.KickLog{},
	)
}
