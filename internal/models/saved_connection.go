package models

import (
	"time"

	"gorm.io/gorm"
)

// SavedConnection is the durable form of a registered connection.
// Every column suffixed Enc holds a vault token; the rest is cleartext for listing.
type SavedConnection struct {
	ID        string `gorm:"primaryKey;size:64" json:"id"`
	OwnerID   string `gorm:"size:64;not null;index" json:"owner_id"`
	Name      string `gorm:"not null" json:"name"`
	Kind      string `gorm:"size:32;not null" json:"kind"`
	GroupName string `gorm:"index" json:"group"`
	SortOrder int    `gorm:"default:0" json:"sort_order"`

	HostEnc     string `gorm:"type:text" json:"-"`
	PortEnc     string `gorm:"type:text" json:"-"`
	UsernameEnc string `gorm:"type:text" json:"-"`
	PasswordEnc string `gorm:"type:text" json:"-"`
	DatabaseEnc string `gorm:"type:text" json:"-"`
	FilePathEnc string `gorm:"type:text" json:"-"`
	DriverEnc   string `gorm:"type:text" json:"-"`
	URLEnc      string `gorm:"type:text" json:"-"`
	OptionsEnc  string `gorm:"type:text" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the default table name for GORM.
func (SavedConnection) TableName() string {
	return "saved_connections"
}

// BeforeDelete removes grants pointing at the connection.
func (c *SavedConnection) BeforeDelete(tx *gorm.DB) error {
	if c.ID == "" {
		return nil
	}
	return tx.Where("resource_id = ?", c.ID).Delete(&Grant{}).Error
}
