package api

import (
	"net/http"
	"strings"
	"time"

	"produse/internal/model"
	"produse/internal/pkg/notify"
	"produse/internal/pkg/timeres"
	"produse/internal/store"

	"github.com/gin-gonic/gin"
)

// TimezoneHeader 请求体未带时区时使用的回退头。
const TimezoneHeader = "X-Timezone"

// reminderRequest 创建或修改提醒的请求参数。
type reminderRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Day         flexString `json:"day"`
	Month       flexString `json:"month"`
	Year        flexString `json:"year"`
	Time        string     `json:"time"`
	Timezone    string     `json:"timezone"`
	LeadMinutes any        `json:"leadMinutes"`
	Channel     string     `json:"channel"`
}

type reminderResponse struct {
	ID             uint       `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	TZ             string     `json:"tz"`
	ScheduledLocal string     `json:"scheduled_local"`
	FireAtUTC      string     `json:"fire_at_utc"`
	LeadMinutes    int        `json:"lead_minutes"`
	Channel        string     `json:"channel"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	FiredAt        *time.Time `json:"fired_at"`
	NotifyNow      bool       `json:"notify_now"` // 浏览器轮询渠道当前应弹出通知
}

func toReminderResponse(r *model.Reminder, now time.Time) reminderResponse {
	return reminderResponse{
		ID:             r.ID,
		Title:          r.Title,
		Description:    r.Description,
		TZ:             r.TZ,
		ScheduledLocal: timeres.ToMinute(r.ScheduledLocal),
		FireAtUTC:      timeres.ToMinute(r.FireAtUTC),
		LeadMinutes:    r.LeadMinutes,
		Channel:        string(r.Channel),
		Status:         r.Status,
		CreatedAt:      r.CreatedAt,
		FiredAt:        r.FiredAt,
		NotifyNow:      browserDue(r, now),
	}
}

// browserDue 报告浏览器轮询渠道的提醒是否处于弹出窗口内，已取消的提醒除外。
func browserDue(r *model.Reminder, now time.Time) bool {
	if r.Channel != model.ChannelBrowserPoll || r.Status == model.ReminderCancelled {
		return false
	}
	loc, err := timeres.LoadZone(r.TZ)
	if err != nil {
		return false
	}
	scheduled, err := timeres.Parse(r.ScheduledLocal, loc)
	if err != nil {
		return false
	}
	return notify.InBrowserWindow(scheduled, now)
}

// schedule 校验请求并计算本地计划时刻与 UTC 触发时刻。
//
// 时区取请求体 timezone，缺省时取 X-Timezone 头；渠道缺省为配置的投递模式，
// 旧的别名在写入前规范化。
func (s *Server) schedule(c *gin.Context, req reminderRequest) (store.Schedule, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return store.Schedule{}, &timeres.ValidationError{Field: "title", Reason: "required"}
	}
	if req.Day == "" || req.Month == "" || req.Year == "" || strings.TrimSpace(req.Time) == "" {
		return store.Schedule{}, &timeres.ValidationError{Field: "date", Reason: "day, month, year and time are required"}
	}

	tz := strings.TrimSpace(req.Timezone)
	if tz == "" {
		tz = strings.TrimSpace(c.GetHeader(TimezoneHeader))
	}

	rawChannel := strings.TrimSpace(req.Channel)
	if rawChannel == "" {
		rawChannel = s.cfg.Dispatch.DeliveryMode
	}
	channel, ok := model.ParseChannel(rawChannel)
	if !ok {
		return store.Schedule{}, &timeres.ValidationError{Field: "channel", Reason: "unknown channel " + rawChannel}
	}

	lead := timeres.LeadMinutes(req.LeadMinutes)
	res, err := timeres.Resolve(timeres.Input{
		Day:         req.Day.String(),
		Month:       req.Month.String(),
		Year:        req.Year.String(),
		Clock:       req.Time,
		Timezone:    tz,
		LeadMinutes: lead,
	})
	if err != nil {
		return store.Schedule{}, err
	}

	return store.Schedule{
		Title:          title,
		Description:    req.Description,
		TZ:             tz,
		ScheduledLocal: timeres.Format(res.ScheduledLocal),
		FireAtUTC:      timeres.Format(res.FireUTC),
		LeadMinutes:    lead,
		Channel:        channel,
	}, nil
}

func (s *Server) handleListReminders(c *gin.Context) {
	reminders, err := s.reminders.ListByUser(c.Request.Context(), getUserID(c))
	if err != nil {
		s.respondStoreError(c, err, "reminder not found")
		return
	}
	now := time.Now()
	out := make([]reminderResponse, 0, len(reminders))
	for i := range reminders {
		out = append(out, toReminderResponse(&reminders[i], now))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetReminder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	r, err := s.reminders.Get(c.Request.Context(), getUserID(c), id)
	if err != nil {
		s.respondStoreError(c, err, "reminder not found")
		return
	}
	c.JSON(http.StatusOK, toReminderResponse(r, time.Now()))
}

func (s *Server) handleCreateReminder(c *gin.Context) {
	var req reminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sch, err := s.schedule(c, req)
	if err != nil {
		if !respondValidation(c, err) {
			s.respondStoreError(c, err, "reminder not found")
		}
		return
	}

	r := model.Reminder{
		UserID:         getUserID(c),
		Title:          sch.Title,
		Description:    sch.Description,
		TZ:             sch.TZ,
		ScheduledLocal: sch.ScheduledLocal,
		FireAtUTC:      sch.FireAtUTC,
		LeadMinutes:    sch.LeadMinutes,
		Channel:        sch.Channel,
		Status:         model.ReminderScheduled,
	}
	if err := s.reminders.Create(c.Request.Context(), &r); err != nil {
		s.respondStoreError(c, err, "reminder not found")
		return
	}
	c.JSON(http.StatusCreated, toReminderResponse(&r, time.Now()))
}

// handleUpdateReminder 重新计算时间并将提醒重置为 scheduled，已触发的提醒会再次触发。
func (s *Server) handleUpdateReminder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req reminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sch, err := s.schedule(c, req)
	if err != nil {
		if !respondValidation(c, err) {
			s.respondStoreError(c, err, "reminder not found")
		}
		return
	}

	r, err := s.reminders.Update(c.Request.Context(), getUserID(c), id, sch)
	if err != nil {
		s.respondStoreError(c, err, "reminder not found")
		return
	}
	c.JSON(http.StatusOK, toReminderResponse(r, time.Now()))
}

func (s *Server) handleCancelReminder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	r, err := s.reminders.Cancel(c.Request.Context(), getUserID(c), id)
	if err != nil {
		s.respondStoreError(c, err, "reminder not found")
		return
	}
	c.JSON(http.StatusOK, toReminderResponse(r, time.Now()))
}

func (s *Server) handleDeleteReminder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.reminders.Delete(c.Request.Context(), getUserID(c), id); err != nil {
		s.respondStoreError(c, err, "reminder not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
