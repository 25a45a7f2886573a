package api

import (
	"errors"
	"net/http"
	"strings"

	"produse/internal/model"
	"produse/internal/pkg/timeres"
	"produse/internal/store"

	"github.com/gin-gonic/gin"
)

// taskRequest 创建或修改任务的请求参数。日期拆分为日、月、年，月份可为数字或英文名。
type taskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	Category    string     `json:"category"`
	Day         flexString `json:"day"`
	Month       flexString `json:"month"`
	Year        flexString `json:"year"`
	Time        string     `json:"time"`
}

type taskResponse struct {
	ID          uint   `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Category    string `json:"category"`
	DueDate     string `json:"due_date"`
	DueTime     string `json:"due_time"`
	Status      string `json:"status"`
}

type updateTaskStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func toTaskResponse(t *model.Task) taskResponse {
	return taskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    t.Priority,
		Category:    t.Category,
		DueDate:     t.DueDate,
		DueTime:     t.DueTime,
		Status:      t.Status,
	}
}

// validatedTask 是校验通过的任务字段。
type validatedTask struct {
	title, description, priority, category string
	dueDate, dueTime                       string
}

func (req taskRequest) validate() (validatedTask, error) {
	var v validatedTask
	v.title = strings.TrimSpace(req.Title)
	if v.title == "" {
		return v, &timeres.ValidationError{Field: "title", Reason: "required"}
	}
	v.category = strings.TrimSpace(req.Category)
	if v.category == "" {
		return v, &timeres.ValidationError{Field: "category", Reason: "required"}
	}
	v.priority = strings.ToLower(strings.TrimSpace(req.Priority))
	if v.priority == "" {
		v.priority = model.PriorityLow
	}
	if !model.ValidPriority(v.priority) {
		return v, &timeres.ValidationError{Field: "priority", Reason: "must be low, medium or high"}
	}
	if req.Day == "" || req.Month == "" || req.Year == "" || strings.TrimSpace(req.Time) == "" {
		return v, &timeres.ValidationError{Field: "date", Reason: "day, month, year and time are required"}
	}
	date, err := timeres.ParseDate(req.Day.String(), req.Month.String(), req.Year.String())
	if err != nil {
		return v, err
	}
	if _, _, err := timeres.ParseClock(req.Time); err != nil {
		return v, err
	}
	v.description = req.Description
	v.dueDate = date.Format(timeres.DateLayout)
	v.dueTime = strings.TrimSpace(req.Time)
	return v, nil
}

func respondValidation(c *gin.Context, err error) bool {
	var verr *timeres.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
		return true
	}
	return false
}

func (s *Server) handleListTasks(c *gin.Context) {
	tasks, err := s.tasks.List(c.Request.Context(), getUserID(c))
	if err != nil {
		s.respondStoreError(c, err, "task not found")
		return
	}
	out := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		out = append(out, toTaskResponse(&tasks[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetTask(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	task, err := s.tasks.Get(c.Request.Context(), getUserID(c), id)
	if err != nil {
		s.respondStoreError(c, err, "task not found")
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(task))
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := req.validate()
	if err != nil {
		respondValidation(c, err)
		return
	}

	task := model.Task{
		UserID:      getUserID(c),
		Title:       v.title,
		Description: v.description,
		Priority:    v.priority,
		Category:    v.category,
		DueDate:     v.dueDate,
		DueTime:     v.dueTime,
		Status:      model.TaskStatusPending,
	}
	if err := s.tasks.Create(c.Request.Context(), &task); err != nil {
		s.respondStoreError(c, err, "task not found")
		return
	}
	c.JSON(http.StatusCreated, toTaskResponse(&task))
}

// handleUpdateTask 整体替换任务内容，状态保持不变。
func (s *Server) handleUpdateTask(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := req.validate()
	if err != nil {
		respondValidation(c, err)
		return
	}

	task, err := s.tasks.Update(c.Request.Context(), getUserID(c), id, store.TaskUpdate{
		Title:       &v.title,
		Description: &v.description,
		Priority:    &v.priority,
		Category:    &v.category,
		DueDate:     &v.dueDate,
		DueTime:     &v.dueTime,
	})
	if err != nil {
		s.respondStoreError(c, err, "task not found")
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(task))
}

func (s *Server) handleUpdateTaskStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req updateTaskStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if !model.ValidTaskStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be pending or completed"})
		return
	}
	task, err := s.tasks.UpdateStatus(c.Request.Context(), getUserID(c), id, status)
	if err != nil {
		s.respondStoreError(c, err, "task not found")
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(task))
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.tasks.Delete(c.Request.Context(), getUserID(c), id); err != nil {
		s.respondStoreError(c, err, "task not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
