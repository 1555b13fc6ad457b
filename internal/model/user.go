package model

import (
	"time"
)

// 用户类型
const (
	UserTypeFree  = "free"
	UserTypeBasic = "basic"
	UserTypePlus  = "plus"
	UserTypePro   = "pro"
)

type User struct {
	ID                    int64     `gorm:"primaryKey" json:"id"`
	Username              string    `gorm:"size:50;uniqueIndex;not null" json:"username"`
	Email                 *string   `gorm:"size:100;uniqueIndex" json:"email,omitempty"`
	Type                  string    `gorm:"size:20;default:free" json:"type"`
	CurrentSubscriptionID *int64    `json:"current_subscription_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
