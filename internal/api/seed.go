package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"produse/internal/model"
	"produse/internal/pkg/timeres"
	"produse/internal/store"

	"golang.org/x/crypto/bcrypt"
)

// DemoEmail 演示账号邮箱。
const DemoEmail = "demo@produse.local"

// SeedDemoData 初始化演示账号及一条示例任务和提醒。
//
// 账号已存在时只确保其处于激活状态，不会重复创建示例数据。
func (s *Server) SeedDemoData(ctx context.Context) error {
	if s.cfg.App.DemoPassword == "" {
		return fmt.Errorf("demo password not configured")
	}
	user, err := s.users.FindByEmail(ctx, DemoEmail)
	if err == nil {
		if user.IsActive() {
			return nil
		}
		if user.VerificationToken == nil {
			return fmt.Errorf("demo account disabled without verification token")
		}
		_, err := s.users.Activate(ctx, *user.VerificationToken)
		return err
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(s.cfg.App.DemoPassword), s.cfg.Security.BcryptCost)
	if err != nil {
		return err
	}
	user = &model.User{
		Name:         "Demo",
		Email:        DemoEmail,
		Username:     "demo",
		PasswordHash: string(hash),
		Status:       model.UserStatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return err
	}

	tomorrow := time.Now().UTC().AddDate(0, 0, 1)
	task := model.Task{
		UserID:   user.ID,
		Title:    "Try Produse",
		Priority: model.PriorityMedium,
		Category: "General",
		DueDate:  tomorrow.Format(timeres.DateLayout),
		DueTime:  "09:00",
		Status:   model.TaskStatusPending,
	}
	if err := s.tasks.Create(ctx, &task); err != nil {
		return err
	}

	local := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 9, 0, 0, 0, time.UTC)
	reminder := model.Reminder{
		UserID:         user.ID,
		Title:          "Demo reminder",
		Description:    "This reminder shows up in the browser.",
		TZ:             "UTC",
		ScheduledLocal: timeres.Format(local),
		FireAtUTC:      timeres.Format(local),
		Channel:        model.ChannelBrowserPoll,
		Status:         model.ReminderScheduled,
	}
	if err := s.reminders.Create(ctx, &reminder); err != nil {
		return err
	}

	s.logger.Info("demo account seeded", slog.String("email", DemoEmail), slog.Uint64("user_id", uint64(user.ID)))
	return nil
}
