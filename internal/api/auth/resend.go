package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"produse/internal/model"
	"produse/internal/pkg/cooldown"
	"produse/internal/pkg/notify"
	"produse/internal/store"
)

var (
	// ErrEmailNotFound 邮箱未注册。
	ErrEmailNotFound = errors.New("email not registered")
	// ErrAlreadyActive 账户已激活，无需重发。
	ErrAlreadyActive = errors.New("account already active")
	// ErrResendInProgress 同一账户的另一个重发请求已先完成。
	ErrResendInProgress = errors.New("resend already in progress")
)

// CooldownError 表示重发被冷却阶梯拒绝。
type CooldownError struct {
	Blocked    bool // 阶梯已用尽
	RetryAfter int  // 剩余等待秒数
}

func (e *CooldownError) Error() string {
	if e.Blocked {
		return "too many resend attempts"
	}
	return fmt.Sprintf("resend available in %d seconds", e.RetryAfter)
}

type resendUsers interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	RecordResend(ctx context.Context, id uint, expectedCount int, token string, at time.Time) error
}

// Resender 按冷却阶梯控制验证邮件重发，状态保存在用户记录上。
type Resender struct {
	users   resendUsers
	mailer  Mailer
	ladder  cooldown.Ladder
	baseURL string
	logger  *slog.Logger
	now     func() time.Time
}

// NewResender 创建重发限制器，ladder 为空时使用 cooldown.DefaultLadder。
func NewResender(users resendUsers, mailer Mailer, ladder cooldown.Ladder, baseURL string, logger *slog.Logger) *Resender {
	if len(ladder) == 0 {
		ladder = cooldown.DefaultLadder
	}
	return &Resender{
		users:   users,
		mailer:  mailer,
		ladder:  ladder,
		baseURL: baseURL,
		logger:  logger,
		now:     time.Now,
	}
}

// AttemptResend 尝试为 email 重发验证邮件。
//
// 先登记本次重发（仅当重发次数未被并发修改），再发送邮件。
//
// 参数:
//
//	ctx: 上下文
//	email: 注册邮箱
//
// 返回值:
//
//	int: 下一次重发需要等待的秒数，阶梯用尽为 -1
//	error: ErrEmailNotFound / ErrAlreadyActive / *CooldownError / ErrResendInProgress 或发送失败
func (r *Resender) AttemptResend(ctx context.Context, email string) (int, error) {
	user, err := r.users.FindByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrEmailNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("find user: %w", err)
	}
	if user.IsActive() {
		return 0, ErrAlreadyActive
	}

	now := r.now()
	last := user.CreatedAt
	if user.LastResendAt != nil {
		last = *user.LastResendAt
	}
	decision := r.ladder.Check(user.ResendCount, last, now)
	if decision.Blocked {
		return 0, &CooldownError{Blocked: true}
	}
	if !decision.Allowed {
		return 0, &CooldownError{RetryAfter: decision.RetryAfter}
	}

	token := ""
	if user.VerificationToken != nil {
		token = *user.VerificationToken
	}
	if token == "" {
		if token, err = newVerificationToken(); err != nil {
			return 0, fmt.Errorf("generate token: %w", err)
		}
	}

	if err := r.users.RecordResend(ctx, user.ID, user.ResendCount, token, now); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return 0, ErrResendInProgress
		}
		return 0, fmt.Errorf("record resend: %w", err)
	}

	attempt := user.ResendCount + 1
	err = r.mailer.SendVerification(ctx, notify.VerificationMail{
		To:      user.Email,
		Name:    user.Name,
		Link:    verificationLink(r.baseURL, token),
		Attempt: attempt,
	})
	if err != nil {
		return 0, fmt.Errorf("send verification: %w", err)
	}

	r.logger.Info("verification email resent",
		slog.Uint64("user_id", uint64(user.ID)),
		slog.Int("attempt", attempt),
		slog.Int("next_cooldown", decision.NextCooldown))
	return decision.NextCooldown, nil
}
