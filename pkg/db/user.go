package db

import (
	"time"

	"github.com/parley-chat/parley/pkg/models"
)

type User struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	Username     string    `json:"username" gorm:"uniqueIndex;size:100;not null"`
	PasswordHash string    `json:"-" gorm:"size:100;not null"`
	FullName     string    `json:"full_name,omitempty" gorm:"size:200"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) ToModel() models.UserInfo {
	return models.UserInfo{ID: u.ID, Username: u.Username, FullName: u.FullName}
}
