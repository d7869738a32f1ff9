package models

import "time"

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// 消息状态只能单向推进：sent -> delivered -> read。
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Message 同时承载私聊与房间消息：ToUserID 与 RoomID 恰好设置一个。
// Content 为空时必须带 ImageURL。
type Message struct {
	ID        uint    `gorm:"primaryKey"`
	FromID    uint    `gorm:"index;not null"`
	ToUserID  *uint   `gorm:"index:idx_msg_to_user"`
	RoomID    *string `gorm:"index:idx_msg_room;size:128"`
	Content   string  `gorm:"type:text"`
	ImageURL  string  `gorm:"size:512"`
	Status    string  `gorm:"size:16;not null;default:sent"`
	Edited    bool    `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
