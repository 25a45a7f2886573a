// Package cooldown 实现验证邮件重发的递增冷却阶梯。
package cooldown

import (
	"math"
	"time"
)

// Ladder 是按已重发次数索引的等待时长。次数达到阶梯长度后永久封禁。
type Ladder []time.Duration

// DefaultLadder 60s → 120s → 300s → 600s → 3600s。
var DefaultLadder = Ladder{
	60 * time.Second,
	120 * time.Second,
	300 * time.Second,
	600 * time.Second,
	3600 * time.Second,
}

// Decision 是一次检查的结果。
type Decision struct {
	Allowed      bool // 可以立即重发
	Blocked      bool // 阶梯已用尽
	RetryAfter   int  // 剩余等待秒数（向上取整），仅在冷却中时大于 0
	NextCooldown int  // 本次重发成功后下一档的等待秒数，阶梯用尽为 -1
}

// Check 判断在 now 时刻能否进行第 count+1 次重发。
//
// 参数:
//
//	count: 已重发次数
//	last: 上次重发时间（从未重发则为账户创建时间）
//	now: 当前时间
//
// 返回值:
//
//	Decision: 检查结果
func (l Ladder) Check(count int, last, now time.Time) Decision {
	if count < 0 {
		count = 0
	}
	if count >= len(l) {
		return Decision{Blocked: true, NextCooldown: -1}
	}
	wait := l[count]
	elapsed := now.Sub(last)
	if elapsed < wait {
		remaining := int(math.Ceil((wait - elapsed).Seconds()))
		if remaining < 1 {
			remaining = 1
		}
		return Decision{RetryAfter: remaining, NextCooldown: l.Seconds(count)}
	}
	return Decision{Allowed: true, NextCooldown: l.Seconds(count + 1)}
}

// Seconds 返回第 count 档的等待秒数，超出阶梯返回 -1。
func (l Ladder) Seconds(count int) int {
	if count < 0 || count >= len(l) {
		return -1
	}
	return int(l[count] / time.Second)
}
