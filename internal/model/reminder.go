package model

import (
	"strings"
	"time"
)

// 提醒状态
const (
	ReminderScheduled = "scheduled"
	ReminderFired     = "fired"
	ReminderCancelled = "cancelled"
)

// Channel 表示提醒的投递渠道。
type Channel string

const (
	ChannelLocalNotify Channel = "local-notify" // 本机系统通知
	ChannelChatRelay   Channel = "chat-relay"   // 聊天机器人转发
	ChannelBrowserPoll Channel = "browser-poll" // 浏览器轮询
)

// Channels 返回所有合法渠道。
func Channels() []Channel {
	return []Channel{ChannelLocalNotify, ChannelChatRelay, ChannelBrowserPoll}
}

// ParseChannel 将请求或历史数据中的渠道值规范化为三种渠道之一。
//
// 兼容旧值: termux / local → local-notify，whatsapp / wa / chat → chat-relay，
// web / browser → browser-poll；包含 "whatsapp" 的自由文本同样视为 chat-relay。
//
// 返回值:
//
//	Channel: 规范化后的渠道
//	bool: 无法识别时为 false
func ParseChannel(raw string) (Channel, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch v {
	case string(ChannelLocalNotify), "termux", "local", "local_notify", "notify":
		return ChannelLocalNotify, true
	case string(ChannelChatRelay), "whatsapp", "wa", "chat", "chat_relay":
		return ChannelChatRelay, true
	case string(ChannelBrowserPoll), "web", "browser", "browser_poll":
		return ChannelBrowserPoll, true
	}
	if strings.Contains(v, "whatsapp") {
		return ChannelChatRelay, true
	}
	return "", false
}

// Reminder 表示一条定时提醒。
//
// ScheduledLocal 是用户时区 TZ 下的墙上时间，FireAtUTC 是由
// (ScheduledLocal, TZ, LeadMinutes) 推导出的 UTC 触发时刻，每次写入都会重新计算。
// 两者均以 "YYYY-MM-DD HH:MM:SS" 存储，字典序即时间顺序。
//
// Revision 在每次编辑时递增，派发回执与 fired 标记都以 (ID, Revision) 为准，
// 编辑后即使触发时间不变也会重新投递。
type Reminder struct {
	ID        uint      `gorm:"primaryKey"` // 提醒 ID
	CreatedAt time.Time // 创建时间

	UserID uint  `gorm:"not null;index"`    // 所属用户 ID
	User   *User `gorm:"foreignKey:UserID"` // 所属用户（派发时预加载）

	Title          string  `gorm:"type:varchar(255);not null"`                                                      // 标题
	Description    string  `gorm:"type:text"`                                                                       // 内容
	TZ             string  `gorm:"column:tz;type:varchar(64);not null"`                                             // IANA 时区
	ScheduledLocal string  `gorm:"type:varchar(19);not null"`                                                       // 本地计划时间
	FireAtUTC      string  `gorm:"column:fire_at_utc;type:varchar(19);not null;index:idx_reminders_due,priority:2"` // UTC 触发时间
	LeadMinutes    int     `gorm:"default:0;not null"`                                                              // 提前分钟数
	Channel        Channel `gorm:"type:varchar(32);not null"`                                                       // 投递渠道
	Status         string  `gorm:"type:varchar(16);default:scheduled;not null;index:idx_reminders_due,priority:1"`  // 状态
	Revision       uint    `gorm:"default:0;not null"`                                                              // 编辑版本号

	FiredAt *time.Time // 实际触发时间
}
