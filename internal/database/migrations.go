package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/dbwarden/internal/models"
	"github.com/charlesng35/dbwarden/internal/permissions"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Role{},
		&models.Grant{},
		&models.SavedConnection{},
		&models.AuditLog{},
		&models.SystemSetting{},
	)
}

// SeedData creates the system roles and resets their permission sets to the current vocabulary.
func SeedData(db *gorm.DB) error {
	for _, def := range permissions.SystemRoles() {
		role := models.Role{Name: def.Name, Description: def.Description, IsSystem: true}
		if err := role.SetPermissions(def.Permissions); err != nil {
			return err
		}

		err := db.Where(models.Role{Name: def.Name}).
			Assign(models.Role{Description: role.Description, Permissions: role.Permissions, IsSystem: true}).
			FirstOrCreate(&models.Role{}).Error
		if err != nil {
			return fmt.Errorf("seed role %s: %w", def.Name, err)
		}
	}
	return nil
}
