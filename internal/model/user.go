package model

import "time"

// 账户状态
const (
	UserStatusDisabled = "disabled" // 未验证邮箱
	UserStatusActive   = "active"   // 已激活
)

// User 表示系统用户。
//
// 验证邮件重发的冷却状态 (ResendCount / LastResendAt) 与账户一起持久化，
// 进程重启后依然有效。
type User struct {
	ID                uint       `gorm:"primaryKey"`                                 // 用户 ID
	Name              string     `gorm:"type:varchar(100);not null"`                 // 显示名称
	Email             string     `gorm:"type:varchar(191);uniqueIndex;not null"`     // 邮箱（唯一）
	Username          string     `gorm:"type:varchar(64);uniqueIndex;not null"`      // 用户名（唯一）
	PasswordHash      string     `gorm:"not null"`                                   // bcrypt 哈希
	Status            string     `gorm:"type:varchar(16);default:disabled;not null"` // 账户状态: disabled / active
	Phone             string     `gorm:"type:varchar(32)"`                           // 手机号（聊天转发渠道使用）
	ResendCount       int        `gorm:"default:0;not null"`                         // 验证邮件重发次数
	LastResendAt      *time.Time // 上次重发时间
	VerificationToken *string    `gorm:"type:varchar(64);uniqueIndex"` // 邮箱验证令牌（一次性）
	CreatedAt         time.Time  // 创建时间
	UpdatedAt         time.Time  // 更新时间
}

// IsActive 报告账户是否已激活。
func (u *User) IsActive() bool {
	return u != nil && u.Status == UserStatusActive
}
