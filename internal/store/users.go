package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"produse/internal/model"

	"gorm.io/gorm"
)

// UserStore 管理用户账户。
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// Create 创建用户。邮箱或用户名已存在时返回 ErrDuplicate。
func (s *UserStore) Create(ctx context.Context, user *model.User) error {
	return translate(s.db.WithContext(ctx).Create(user).Error)
}

// Exists 报告邮箱或用户名是否已被占用。
func (s *UserStore) Exists(ctx context.Context, email, username string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.User{}).
		Where("email = ? OR username = ?", email, username).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *UserStore) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// FindByLogin 按邮箱或用户名查找用户。
func (s *UserStore) FindByLogin(ctx context.Context, handle string) (*model.User, error) {
	handle = strings.TrimSpace(handle)
	var user model.User
	err := s.db.WithContext(ctx).
		Where("email = ? OR username = ?", strings.ToLower(handle), handle).
		First(&user).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// IsActive 报告用户是否存在且已激活。用户不存在时返回 ErrNotFound。
func (s *UserStore) IsActive(ctx context.Context, id uint) (bool, error) {
	var user model.User
	err := s.db.WithContext(ctx).Select("id", "status").Where("id = ?", id).Take(&user).Error
	if err != nil {
		return false, translate(err)
	}
	return user.IsActive(), nil
}

// Activate 以一次性验证令牌激活账户并清除令牌。
func (s *UserStore) Activate(ctx context.Context, token string) (*model.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNotFound
	}
	var user model.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("verification_token = ?", token).First(&user).Error; err != nil {
			return err
		}
		res := tx.Model(&model.User{}).
			Where("id = ? AND verification_token = ?", user.ID, token).
			Updates(map[string]interface{}{
				"status":             model.UserStatusActive,
				"verification_token": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		user.Status = model.UserStatusActive
		user.VerificationToken = nil
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// RecordResend 登记一次验证邮件重发。
//
// 仅当 resend_count 仍等于 expectedCount 时更新，并发的重复请求返回 ErrConflict。
//
// 参数:
//
//	id: 用户 ID
//	expectedCount: 检查时读取到的重发次数
//	token: 本次使用的验证令牌
//	at: 重发时间
func (s *UserStore) RecordResend(ctx context.Context, id uint, expectedCount int, token string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND resend_count = ? AND status = ?", id, expectedCount, model.UserStatusDisabled).
		Updates(map[string]interface{}{
			"resend_count":       expectedCount + 1,
			"last_resend_at":     at,
			"verification_token": token,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// ProfileUpdate 是可修改的资料字段，nil 表示不修改。
type ProfileUpdate struct {
	Name  *string
	Phone *string
}

// UpdateProfile 修改用户资料并返回最新记录。
func (s *UserStore) UpdateProfile(ctx context.Context, id uint, upd ProfileUpdate) (*model.User, error) {
	updates := map[string]interface{}{}
	if upd.Name != nil {
		updates["name"] = *upd.Name
	}
	if upd.Phone != nil {
		updates["phone"] = *upd.Phone
	}
	var user model.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, id).Error; err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&user).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&user, id).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// Delete 注销账户并删除其任务与提醒。
func (s *UserStore) Delete(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&model.Reminder{}).Error; err != nil {
			return fmt.Errorf("delete reminders: %w", err)
		}
		if err := tx.Where("user_id = ?", id).Delete(&model.Task{}).Error; err != nil {
			return fmt.Errorf("delete tasks: %w", err)
		}
		res := tx.Delete(&model.User{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	return translate(err)
}
