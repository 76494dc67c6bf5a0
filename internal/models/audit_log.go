package models

import (
	"gorm.io/datatypes"
)

// AuditLog records one security relevant action.
type AuditLog struct {
	BaseModel

	Username string         `gorm:"size:64;index" json:"username"`
	Action   string         `gorm:"not null;index" json:"action"`
	Resource string         `gorm:"index" json:"resource"`
	Result   string         `gorm:"not null" json:"result"`
	ClientIP string         `json:"client_ip"`
	Metadata datatypes.JSON `json:"metadata"`
}
