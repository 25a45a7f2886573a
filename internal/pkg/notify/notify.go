// Package notify 提供提醒投递渠道与验证邮件发送。
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"produse/internal/model"
	"produse/internal/pkg/metrics"
)

// Channel 定义单一投递渠道。
type Channel interface {
	// Name 返回渠道标识。
	Name() model.Channel

	// Attempt 尝试投递一条提醒。
	//
	// 参数:
	//   ctx: 上下文（带单次投递超时）
	//   r: 待投递的提醒
	//   u: 提醒所属用户（可能为 nil）
	//
	// 返回值:
	//   bool: 是否投递成功。失败由实现自行记录日志，不向上抛出。
	Attempt(ctx context.Context, r *model.Reminder, u *model.User) bool
}

// Set 是按渠道标识注册的投递渠道集合。
type Set struct {
	channels map[model.Channel]Channel
	mode     model.Channel
}

// NewSet 创建渠道集合。
//
// 参数:
//
//	mode: 默认投递模式；为 local-notify 时每条提醒都会额外发送本机通知
//	channels: 已注册的渠道
func NewSet(mode model.Channel, channels ...Channel) *Set {
	s := &Set{
		channels: make(map[model.Channel]Channel, len(channels)),
		mode:     mode,
	}
	for _, ch := range channels {
		if ch != nil {
			s.channels[ch.Name()] = ch
		}
	}
	return s
}

// Mode 返回默认投递模式。
func (s *Set) Mode() model.Channel {
	return s.mode
}

// Get 按标识查找渠道。
func (s *Set) Get(name model.Channel) (Channel, bool) {
	ch, ok := s.channels[name]
	return ch, ok
}

// Plan 返回一条提醒需要依次尝试的渠道。
//
// 先是提醒自身的渠道；默认模式为 local-notify 时再追加本机通知（去重）。
// 无法识别的存量渠道值按默认模式处理。
func (s *Set) Plan(primary model.Channel) []Channel {
	if _, ok := s.channels[primary]; !ok {
		if normalized, ok := model.ParseChannel(string(primary)); ok {
			primary = normalized
		} else {
			primary = s.mode
		}
	}

	plan := make([]Channel, 0, 2)
	if ch, ok := s.channels[primary]; ok {
		plan = append(plan, ch)
	}
	if s.mode == model.ChannelLocalNotify && primary != model.ChannelLocalNotify {
		if ch, ok := s.channels[model.ChannelLocalNotify]; ok {
			plan = append(plan, ch)
		}
	}
	return plan
}

// Deliver 调用 ch.Attempt，拦截 panic 并记录指标。
func Deliver(ctx context.Context, ch Channel, r *model.Reminder, u *model.User, logger *slog.Logger) (ok bool) {
	name := string(ch.Name())
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			if logger != nil {
				logger.Error("channel attempt panicked",
					slog.String("channel", name),
					slog.Uint64("reminder_id", uint64(r.ID)),
					slog.String("panic", fmt.Sprint(rec)))
			}
		}
		result := "failed"
		if ok {
			result = "delivered"
		}
		metrics.ChannelAttemptsTotal.WithLabelValues(name, result).Inc()
	}()
	return ch.Attempt(ctx, r, u)
}
