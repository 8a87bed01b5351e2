package models

import "gorm.io/gorm"

// AutoMigrate creates or updates the bracket tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Match{},
		&Player{},
		&Game{},
	)
}
