package store

import (
	"context"
	"time"

	"produse/internal/model"
	"produse/internal/pkg/timeres"

	"gorm.io/gorm"
)

// ReminderStore 管理提醒，并为派发器提供到期查询与触发标记。
type ReminderStore struct {
	db *gorm.DB
}

func NewReminderStore(db *gorm.DB) *ReminderStore {
	return &ReminderStore{db: db}
}

// Schedule 是一次完整的时间编排结果，写入时整体替换。
type Schedule struct {
	Title          string
	Description    string
	TZ             string
	ScheduledLocal string
	FireAtUTC      string
	LeadMinutes    int
	Channel        model.Channel
}

// ListByUser 返回用户的全部提醒，计划时间晚的在前。
func (s *ReminderStore) ListByUser(ctx context.Context, userID uint) ([]model.Reminder, error) {
	reminders := make([]model.Reminder, 0)
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("scheduled_local DESC").Order("id DESC").
		Find(&reminders).Error
	return reminders, err
}

func (s *ReminderStore) Get(ctx context.Context, userID, id uint) (*model.Reminder, error) {
	var r model.Reminder
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&r).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (s *ReminderStore) Create(ctx context.Context, r *model.Reminder) error {
	if r.Status == "" {
		r.Status = model.ReminderScheduled
	}
	return s.db.WithContext(ctx).Omit("User").Create(r).Error
}

// Update 用新的编排整体替换提醒，并重置为 scheduled、清空触发时间。
func (s *ReminderStore) Update(ctx context.Context, userID, id uint, sch Schedule) (*model.Reminder, error) {
	var r model.Reminder
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&r).Error; err != nil {
			return err
		}
		err := tx.Model(&model.Reminder{}).Where("id = ?", r.ID).Updates(map[string]interface{}{
			"title":           sch.Title,
			"description":     sch.Description,
			"tz":              sch.TZ,
			"scheduled_local": sch.ScheduledLocal,
			"fire_at_utc":     sch.FireAtUTC,
			"lead_minutes":    sch.LeadMinutes,
			"channel":         sch.Channel,
			"status":          model.ReminderScheduled,
			"fired_at":        nil,
			"revision":        gorm.Expr("revision + 1"),
		}).Error
		if err != nil {
			return err
		}
		return tx.First(&r, r.ID).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

// Cancel 取消一条尚未触发的提醒。已触发的提醒返回 ErrConflict。
func (s *ReminderStore) Cancel(ctx context.Context, userID, id uint) (*model.Reminder, error) {
	var r model.Reminder
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&r).Error; err != nil {
			return err
		}
		switch r.Status {
		case model.ReminderCancelled:
			return nil
		case model.ReminderFired:
			return ErrConflict
		}
		res := tx.Model(&model.Reminder{}).
			Where("id = ? AND status = ?", r.ID, model.ReminderScheduled).
			Update("status", model.ReminderCancelled)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		r.Status = model.ReminderCancelled
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (s *ReminderStore) Delete(ctx context.Context, userID, id uint) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&model.Reminder{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDueUnfired 返回 now 之前到期且仍为 scheduled 的提醒，最早到期的在前，并预加载所属用户。
//
// 参数:
//
//	now: 当前时间（按 UTC 比较）
//	limit: 本批最多返回条数
func (s *ReminderStore) ListDueUnfired(ctx context.Context, now time.Time, limit int) ([]model.Reminder, error) {
	if limit <= 0 {
		limit = 50
	}
	reminders := make([]model.Reminder, 0, limit)
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("status = ? AND fire_at_utc <= ?", model.ReminderScheduled, timeres.Format(now.UTC())).
		Order("fire_at_utc ASC").Order("id ASC").
		Limit(limit).
		Find(&reminders).Error
	return reminders, err
}

// MarkFired 将提醒标记为已触发。
//
// 条件更新：仅当提醒仍为 scheduled 且版本号未变时生效，
// 派发期间被用户编辑过的提醒保持新的编排。
//
// 参数:
//
//	id: 提醒 ID
//	revision: 派发时读取到的版本号
//	at: 触发时间
//
// 返回值:
//
//	bool: 是否实际更新
//	error: 数据库错误
func (s *ReminderStore) MarkFired(ctx context.Context, id, revision uint, at time.Time) (bool, error) {
	firedAt := at.UTC()
	res := s.db.WithContext(ctx).Model(&model.Reminder{}).
		Where("id = ? AND status = ? AND revision = ?", id, model.ReminderScheduled, revision).
		Updates(map[string]interface{}{
			"status":   model.ReminderFired,
			"fired_at": firedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// NormalizeLegacyChannels 将历史数据中的非规范渠道值改写为三种规范渠道之一，
// 无法识别的值改写为 fallback。
//
// 返回值:
//
//	int64: 被改写的记录数
func (s *ReminderStore) NormalizeLegacyChannels(ctx context.Context, fallback model.Channel) (int64, error) {
	canonical := make([]string, 0, 3)
	for _, ch := range model.Channels() {
		canonical = append(canonical, string(ch))
	}

	var legacy []string
	err := s.db.WithContext(ctx).Model(&model.Reminder{}).
		Distinct("channel").
		Where("channel NOT IN ?", canonical).
		Pluck("channel", &legacy).Error
	if err != nil {
		return 0, err
	}

	var total int64
	for _, value := range legacy {
		target, ok := model.ParseChannel(value)
		if !ok {
			target = fallback
		}
		res := s.db.WithContext(ctx).Model(&model.Reminder{}).
			Where("channel = ?", value).
			Update("channel", target)
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
	}
	return total, nil
}
