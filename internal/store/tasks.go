package store

import (
	"context"

	"produse/internal/model"

	"gorm.io/gorm"
)

// TaskStore 管理待办事项。
type TaskStore struct {
	db *gorm.DB
}

func NewTaskStore(db *gorm.DB) *TaskStore {
	return &TaskStore{db: db}
}

// TaskUpdate 是可修改的任务字段，nil 表示不修改。
type TaskUpdate struct {
	Title       *string
	Description *string
	Priority    *string
	Category    *string
	DueDate     *string
	DueTime     *string
	Status      *string
}

func (u TaskUpdate) columns() map[string]interface{} {
	m := map[string]interface{}{}
	if u.Title != nil {
		m["title"] = *u.Title
	}
	if u.Description != nil {
		m["description"] = *u.Description
	}
	if u.Priority != nil {
		m["priority"] = *u.Priority
	}
	if u.Category != nil {
		m["category"] = *u.Category
	}
	if u.DueDate != nil {
		m["due_date"] = *u.DueDate
	}
	if u.DueTime != nil {
		m["due_time"] = *u.DueTime
	}
	if u.Status != nil {
		m["status"] = *u.Status
	}
	return m
}

// List 返回用户的全部任务，按截止日期、时间与 ID 排序。
func (s *TaskStore) List(ctx context.Context, userID uint) ([]model.Task, error) {
	tasks := make([]model.Task, 0)
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("due_date ASC").Order("due_time ASC").Order("id ASC").
		Find(&tasks).Error
	return tasks, err
}

func (s *TaskStore) Get(ctx context.Context, userID, id uint) (*model.Task, error) {
	var task model.Task
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&task).Error; err != nil {
		return nil, translate(err)
	}
	return &task, nil
}

func (s *TaskStore) Create(ctx context.Context, task *model.Task) error {
	return s.db.WithContext(ctx).Create(task).Error
}

// Update 修改任务并返回最新记录。
func (s *TaskStore) Update(ctx context.Context, userID, id uint, upd TaskUpdate) (*model.Task, error) {
	var task model.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&task).Error; err != nil {
			return err
		}
		cols := upd.columns()
		if len(cols) == 0 {
			return nil
		}
		if err := tx.Model(&task).Updates(cols).Error; err != nil {
			return err
		}
		return tx.First(&task, task.ID).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &task, nil
}

// UpdateStatus 修改任务状态 (pending / completed)。
func (s *TaskStore) UpdateStatus(ctx context.Context, userID, id uint, status string) (*model.Task, error) {
	return s.Update(ctx, userID, id, TaskUpdate{Status: &status})
}

func (s *TaskStore) Delete(ctx context.Context, userID, id uint) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&model.Task{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
