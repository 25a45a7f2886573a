package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"produse/internal/config"
	"produse/internal/model"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedUser(t *testing.T, users *UserStore, name string, status string) *model.User {
	t.Helper()
	u := &model.User{
		Name:         name,
		Email:        name + "@example.com",
		Username:     name,
		PasswordHash: "hash",
		Status:       status,
	}
	require.NoError(t, users.Create(context.Background(), u))
	return u
}

func strPtr(s string) *string { return &s }

func TestUserStore_CreateAndFind(t *testing.T) {
	users := NewUserStore(newTestDB(t))
	ctx := context.Background()
	u := seedUser(t, users, "ana", model.UserStatusDisabled)

	exists, err := users.Exists(ctx, "other@example.com", "ana")
	require.NoError(t, err)
	require.True(t, exists)

	byEmail, err := users.FindByLogin(ctx, "ANA@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, byEmail.ID)

	byName, err := users.FindByLogin(ctx, "ana")
	require.NoError(t, err)
	require.Equal(t, u.ID, byName.ID)

	_, err = users.FindByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, ErrNotFound)

	err = users.Create(ctx, &model.User{Name: "x", Email: "ana@example.com", Username: "x2", PasswordHash: "h"})
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestUserStore_ActivateIsSingleUse(t *testing.T) {
	users := NewUserStore(newTestDB(t))
	ctx := context.Background()

	u := &model.User{Name: "bo", Email: "bo@example.com", Username: "bo", PasswordHash: "h",
		Status: model.UserStatusDisabled, VerificationToken: strPtr("tok-1")}
	require.NoError(t, users.Create(ctx, u))

	active, err := users.IsActive(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, active)

	activated, err := users.Activate(ctx, "tok-1")
	require.NoError(t, err)
	require.Equal(t, model.UserStatusActive, activated.Status)

	active, err = users.IsActive(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, active)

	reloaded, err := users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	require.Nil(t, reloaded.VerificationToken)

	_, err = users.Activate(ctx, "tok-1")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = users.IsActive(ctx, 9999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUserStore_RecordResendIsOptimistic(t *testing.T) {
	users := NewUserStore(newTestDB(t))
	ctx := context.Background()
	u := seedUser(t, users, "cy", model.UserStatusDisabled)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, users.RecordResend(ctx, u.ID, 0, "tok", at))
	err := users.RecordResend(ctx, u.ID, 0, "tok", at)
	require.ErrorIs(t, err, ErrConflict)

	reloaded, err := users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.ResendCount)
	require.NotNil(t, reloaded.LastResendAt)
	require.True(t, reloaded.LastResendAt.Equal(at))
	require.Equal(t, "tok", *reloaded.VerificationToken)
}

func TestUserStore_UpdateProfileAndDelete(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStore(db)
	tasks := NewTaskStore(db)
	reminders := NewReminderStore(db)
	ctx := context.Background()
	u := seedUser(t, users, "di", model.UserStatusActive)

	updated, err := users.UpdateProfile(ctx, u.ID, ProfileUpdate{Phone: strPtr("628111")})
	require.NoError(t, err)
	require.Equal(t, "628111", updated.Phone)
	require.Equal(t, "di", updated.Name)

	require.NoError(t, tasks.Create(ctx, &model.Task{UserID: u.ID, Title: "t", Category: "c", DueDate: "2026-01-01", DueTime: "10:00"}))
	require.NoError(t, reminders.Create(ctx, newReminder(u.ID, "2026-01-01 10:00:00")))

	require.NoError(t, users.Delete(ctx, u.ID))
	_, err = users.FindByID(ctx, u.ID)
	require.ErrorIs(t, err, ErrNotFound)

	list, err := tasks.List(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, list)
	rs, err := reminders.ListByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, rs)
}

func TestTaskStore_OrderingAndOwnership(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStore(db)
	tasks := NewTaskStore(db)
	ctx := context.Background()
	owner := seedUser(t, users, "owner", model.UserStatusActive)
	other := seedUser(t, users, "other", model.UserStatusActive)

	for _, due := range [][2]string{{"2026-02-01", "09:00"}, {"2026-01-15", "18:00"}, {"2026-01-15", "08:30"}} {
		require.NoError(t, tasks.Create(ctx, &model.Task{
			UserID: owner.ID, Title: due[0] + " " + due[1], Category: "work",
			Priority: model.PriorityLow, DueDate: due[0], DueTime: due[1], Status: model.TaskStatusPending,
		}))
	}

	list, err := tasks.List(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "2026-01-15 08:30", list[0].Title)
	require.Equal(t, "2026-01-15 18:00", list[1].Title)
	require.Equal(t, "2026-02-01 09:00", list[2].Title)

	target := list[0].ID
	_, err = tasks.Get(ctx, other.ID, target)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = tasks.Update(ctx, other.ID, target, TaskUpdate{Title: strPtr("hijack")})
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, tasks.Delete(ctx, other.ID, target), ErrNotFound)

	done, err := tasks.UpdateStatus(ctx, owner.ID, target, model.TaskStatusCompleted)
	require.NoError(t, err)
	require.Equal(t, model.TaskStatusCompleted, done.Status)

	again, err := tasks.UpdateStatus(ctx, owner.ID, target, model.TaskStatusCompleted)
	require.NoError(t, err)
	require.Equal(t, model.TaskStatusCompleted, again.Status)

	require.NoError(t, tasks.Delete(ctx, owner.ID, target))
	_, err = tasks.Get(ctx, owner.ID, target)
	require.ErrorIs(t, err, ErrNotFound)
}

func newReminder(userID uint, fireAt string) *model.Reminder {
	return &model.Reminder{
		UserID:         userID,
		Title:          "r " + fireAt,
		TZ:             "UTC",
		ScheduledLocal: fireAt,
		FireAtUTC:      fireAt,
		Channel:        model.ChannelBrowserPoll,
		Status:         model.ReminderScheduled,
	}
}

func TestReminderStore_ListDueUnfired(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStore(db)
	reminders := NewReminderStore(db)
	ctx := context.Background()
	u := seedUser(t, users, "eve", model.UserStatusActive)
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		r := newReminder(u.ID, fmt.Sprintf("2026-04-01 11:0%d:00", 5-i))
		require.NoError(t, reminders.Create(ctx, r))
	}
	future := newReminder(u.ID, "2026-04-01 12:01:00")
	require.NoError(t, reminders.Create(ctx, future))
	fired := newReminder(u.ID, "2026-04-01 10:00:00")
	fired.Status = model.ReminderFired
	require.NoError(t, reminders.Create(ctx, fired))
	cancelled := newReminder(u.ID, "2026-04-01 09:00:00")
	cancelled.Status = model.ReminderCancelled
	require.NoError(t, reminders.Create(ctx, cancelled))
	exact := newReminder(u.ID, "2026-04-01 12:00:00")
	require.NoError(t, reminders.Create(ctx, exact))

	due, err := reminders.ListDueUnfired(ctx, now, 3)
	require.NoError(t, err)
	require.Len(t, due, 3)
	require.Equal(t, "2026-04-01 11:01:00", due[0].FireAtUTC)
	require.Equal(t, "2026-04-01 11:02:00", due[1].FireAtUTC)
	require.Equal(t, "2026-04-01 11:03:00", due[2].FireAtUTC)
	for _, r := range due {
		require.Equal(t, model.ReminderScheduled, r.Status)
		require.NotNil(t, r.User)
		require.Equal(t, u.ID, r.User.ID)
	}

	all, err := reminders.ListDueUnfired(ctx, now, 50)
	require.NoError(t, err)
	require.Len(t, all, 6)
	require.Equal(t, "2026-04-01 12:00:00", all[5].FireAtUTC)
}

func TestReminderStore_MarkFiredIsConditional(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStore(db)
	reminders := NewReminderStore(db)
	ctx := context.Background()
	u := seedUser(t, users, "fay", model.UserStatusActive)
	at := time.Date(2026, 4, 1, 12, 0, 5, 0, time.UTC)

	r := newReminder(u.ID, "2026-04-01 12:00:00")
	require.NoError(t, reminders.Create(ctx, r))

	ok, err := reminders.MarkFired(ctx, r.ID, r.Revision+1, at)
	require.NoError(t, err)
	require.False(t, ok, "stale revision must not mark fired")

	ok, err = reminders.MarkFired(ctx, r.ID, r.Revision, at)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := reminders.Get(ctx, u.ID, r.ID)
	require.NoError(t, err)
	require.Equal(t, model.ReminderFired, got.Status)
	require.NotNil(t, got.FiredAt)
	require.True(t, got.FiredAt.Equal(at))

	ok, err = reminders.MarkFired(ctx, r.ID, r.Revision, at)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReminderStore_UpdateResetsFired(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStore(db)
	reminders := NewReminderStore(db)
	ctx := context.Background()
	owner := seedUser(t, users, "gus", model.UserStatusActive)
	other := seedUser(t, users, "hal", model.UserStatusActive)

	r := newReminder(owner.ID, "2026-04-01 12:00:00")
	require.NoError(t, reminders.Create(ctx, r))
	_, err := reminders.MarkFired(ctx, r.ID, r.Revision, time.Now())
	require.NoError(t, err)

	sch := Schedule{
		Title: "moved", TZ: "Asia/Jakarta",
		ScheduledLocal: "2026-04-02 09:00:00", FireAtUTC: "2026-04-02 01:50:00",
		LeadMinutes: 10, Channel: model.ChannelChatRelay,
	}
	_, err = reminders.Update(ctx, other.ID, r.ID, sch)
	require.ErrorIs(t, err, ErrNotFound)

	updated, err := reminders.Update(ctx, owner.ID, r.ID, sch)
	require.NoError(t, err)
	require.Equal(t, model.ReminderScheduled, updated.Status)
	require.Nil(t, updated.FiredAt)
	require.Equal(t, "2026-04-02 01:50:00", updated.FireAtUTC)
	require.Equal(t, model.ChannelChatRelay, updated.Channel)
	require.Equal(t, 10, updated.LeadMinutes)
	require.Equal(t, r.Revision+1, updated.Revision)

	// 触发时间不变的编辑同样使旧版本的 fired 标记失效
	same, err := reminders.Update(ctx, owner.ID, r.ID, sch)
	require.NoError(t, err)
	require.Equal(t, updated.FireAtUTC, same.FireAtUTC)
	require.Equal(t, updated.Revision+1, same.Revision)

	ok, err := reminders.MarkFired(ctx, r.ID, updated.Revision, time.Now())
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = reminders.MarkFired(ctx, r.ID, same.Revision, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReminderStore_CancelAndDelete(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStore(db)
	reminders := NewReminderStore(db)
	ctx := context.Background()
	owner := seedUser(t, users, "ivy", model.UserStatusActive)
	other := seedUser(t, users, "jon", model.UserStatusActive)

	r := newReminder(owner.ID, "2026-04-01 12:00:00")
	require.NoError(t, reminders.Create(ctx, r))

	_, err := reminders.Cancel(ctx, other.ID, r.ID)
	require.ErrorIs(t, err, ErrNotFound)

	c, err := reminders.Cancel(ctx, owner.ID, r.ID)
	require.NoError(t, err)
	require.Equal(t, model.ReminderCancelled, c.Status)

	due, err := reminders.ListDueUnfired(ctx, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), 50)
	require.NoError(t, err)
	require.Empty(t, due)

	f := newReminder(owner.ID, "2026-04-01 13:00:00")
	require.NoError(t, reminders.Create(ctx, f))
	_, err = reminders.MarkFired(ctx, f.ID, f.Revision, time.Now())
	require.NoError(t, err)
	_, err = reminders.Cancel(ctx, owner.ID, f.ID)
	require.True(t, errors.Is(err, ErrConflict))

	require.ErrorIs(t, reminders.Delete(ctx, other.ID, r.ID), ErrNotFound)
	require.NoError(t, reminders.Delete(ctx, owner.ID, r.ID))
	_, err = reminders.Get(ctx, owner.ID, r.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReminderStore_NormalizeLegacyChannels(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStore(db)
	reminders := NewReminderStore(db)
	ctx := context.Background()
	u := seedUser(t, users, "kit", model.UserStatusActive)

	for _, ch := range []model.Channel{"termux", "whatsapp", "web", "sms", model.ChannelChatRelay} {
		r := newReminder(u.ID, "2026-04-01 12:00:00")
		r.Channel = ch
		require.NoError(t, reminders.Create(ctx, r))
	}

	n, err := reminders.NormalizeLegacyChannels(ctx, model.ChannelLocalNotify)
	require.NoError(t, err)
	require.EqualValues(t, 4, n)

	list, err := reminders.ListByUser(ctx, u.ID)
	require.NoError(t, err)
	counts := map[model.Channel]int{}
	for _, r := range list {
		counts[r.Channel]++
	}
	require.Equal(t, map[model.Channel]int{
		model.ChannelLocalNotify: 2,
		model.ChannelChatRelay:   2,
		model.ChannelBrowserPoll: 1,
	}, counts)
}
