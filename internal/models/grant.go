package models

// Grant delegates a role's permissions on one connection to a user who does not own it.
type Grant struct {
	BaseModel

	Username   string `gorm:"size:64;not null;uniqueIndex:idx_grant_user_resource,priority:1" json:"username"`
	ResourceID string `gorm:"size:64;not null;uniqueIndex:idx_grant_user_resource,priority:2;index" json:"resource_id"`
	RoleName   string `gorm:"size:64;not null;index" json:"role"`
	GrantedBy  string `gorm:"size:64" json:"granted_by"`
}

// TableName overrides the default table name for GORM.
func (Grant) TableName() string {
	return "resource_grants"
}
