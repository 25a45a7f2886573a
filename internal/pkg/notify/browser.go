package notify

import (
	"context"
	"time"

	"produse/internal/model"
)

// BrowserWindow 是浏览器端弹出通知的有效窗口。
const BrowserWindow = 5 * time.Minute

// BrowserPoll 是浏览器轮询渠道。服务端无需推送，客户端轮询提醒列表，
// 在 now - scheduled_local 落在 [0, BrowserWindow) 时弹出一次通知，
// 同一页面会话内按提醒 ID 去重。
type BrowserPoll struct{}

func (BrowserPoll) Name() model.Channel { return model.ChannelBrowserPoll }

func (BrowserPoll) Attempt(context.Context, *model.Reminder, *model.User) bool { return true }

// InBrowserWindow 报告客户端在 now 时刻是否应为 scheduled 弹出通知。
func InBrowserWindow(scheduled, now time.Time) bool {
	d := now.Sub(scheduled)
	return d >= 0 && d < BrowserWindow
}
