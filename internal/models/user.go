package models

// User is an account identified by a lowercased username holding one global role.
type User struct {
	BaseModel

	Username     string `gorm:"uniqueIndex;size:64;not null" json:"username"`
	PasswordHash string `gorm:"not null" json:"-"`
	RoleName     string `gorm:"index;size:64;not null" json:"role"`
}
