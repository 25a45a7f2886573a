package model

import "time"

// 任务优先级
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// 任务状态
const (
	TaskStatusPending   = "pending"
	TaskStatusCompleted = "completed"
)

// Task 表示用户的一条待办事项。
//
// DueDate 与 DueTime 以规范字符串存储 (YYYY-MM-DD / HH:MM)，
// 列表按字典序排序即为时间顺序。
type Task struct {
	ID        uint      `gorm:"primaryKey"` // 任务唯一标识
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	UserID      uint   `gorm:"not null;index"`                            // 所属用户 ID
	Title       string `gorm:"type:varchar(255);not null"`                // 标题
	Description string `gorm:"type:text"`                                 // 描述
	Priority    string `gorm:"type:varchar(16);default:low;not null"`     // 优先级: low / medium / high
	Category    string `gorm:"type:varchar(64);not null"`                 // 分类
	DueDate     string `gorm:"type:varchar(10);not null"`                 // 截止日期 YYYY-MM-DD
	DueTime     string `gorm:"type:varchar(5);not null"`                  // 截止时间 HH:MM
	Status      string `gorm:"type:varchar(16);default:pending;not null"` // 状态: pending / completed
}

// ValidPriority 报告 p 是否为合法优先级。
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ValidTaskStatus 报告 s 是否为合法任务状态。
func ValidTaskStatus(s string) bool {
	return s == TaskStatusPending || s == TaskStatusCompleted
}
