package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"produse/internal/model"
	"produse/internal/pkg/metrics"

	"golang.org/x/time/rate"
)

// ChatRelay 将提醒发送到本地聊天机器人服务。
//
// 请求体为 {"target": 手机号, "message": 正文}，任何 2xx 响应视为成功。
type ChatRelay struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

type relayPayload struct {
	Target  string `json:"target"`
	Message string `json:"message"`
}

// NewChatRelay 创建聊天转发渠道。
//
// 参数:
//
//	url: 转发服务地址
//	timeout: 单次请求超时
//	ratePerSec: 每秒最多发送条数（<=0 表示不限）
//	logger: 日志记录器
func NewChatRelay(url string, timeout time.Duration, ratePerSec int, logger *slog.Logger) *ChatRelay {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}
	return &ChatRelay{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger,
	}
}

func (c *ChatRelay) Name() model.Channel { return model.ChannelChatRelay }

// Attempt 发送聊天消息。用户没有手机号时跳过并返回 false。
func (c *ChatRelay) Attempt(ctx context.Context, r *model.Reminder, u *model.User) bool {
	if u == nil || strings.TrimSpace(u.Phone) == "" {
		c.logger.Warn("chat relay skipped: no phone on file",
			slog.Uint64("reminder_id", uint64(r.ID)),
			slog.Uint64("user_id", uint64(r.UserID)))
		return false
	}
	if err := c.send(ctx, strings.TrimSpace(u.Phone), ChatMessage(r)); err != nil {
		c.logger.Warn("chat relay failed",
			slog.Uint64("reminder_id", uint64(r.ID)),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

func (c *ChatRelay) send(ctx context.Context, target, message string) error {
	if c.limiter != nil {
		start := time.Now()
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("relay throttle: %w", err)
		}
		metrics.ChatRelayWaitDuration.Observe(time.Since(start).Seconds())
	}

	body, err := json.Marshal(relayPayload{Target: target, Message: message})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post relay: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("relay status %d", resp.StatusCode)
	}
	return nil
}
