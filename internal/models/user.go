package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role of a user account
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleStandard   Role = "standard"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleStandard:
		return true
	}
	return false
}

// User is an account. Super admins carry no department.
// Standardized: Go (PascalCase) -> DB (snake_case) -> JSON (camelCase)
type User struct {
	ID           string     `gorm:"primaryKey;type:uuid" json:"id"`
	Username     string     `gorm:"not null" json:"username"`
	UsernameKey  string     `gorm:"uniqueIndex;not null" json:"-"`
	Password     string     `gorm:"not null" json:"-"`
	Role         Role       `gorm:"type:varchar(20);not null;default:'standard'" json:"role"`
	DepartmentID *uint      `gorm:"index" json:"departmentId"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Department *Department `gorm:"foreignKey:DepartmentID" json:"department,omitempty"`
}

// TableName specifies the table name for User model
func (User) TableName() string {
	return "users"
}

// BeforeCreate assigns the uuid primary key
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
