package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"produse/internal/model"
	"produse/internal/pkg/metrics"
	"produse/internal/pkg/notify"

	"github.com/robfig/cron/v3"
)

// ReminderSource 是派发器依赖的提醒存储。
type ReminderSource interface {
	ListDueUnfired(ctx context.Context, now time.Time, limit int) ([]model.Reminder, error)
	MarkFired(ctx context.Context, id, revision uint, at time.Time) (bool, error)
}

// ReceiptClaimer 登记投递回执，已登记过的 (id, revision, fireAt) 不再投递。
type ReceiptClaimer interface {
	Claim(ctx context.Context, reminderID, revision uint, fireAt string) (bool, error)
}

// Options 派发器参数，零值使用默认值。
type Options struct {
	Interval       time.Duration // 轮询间隔，默认 10s
	BatchSize      int           // 每周期最多处理条数，默认 50
	ChannelTimeout time.Duration // 单次渠道投递超时，默认 5s
}

// CycleStats 是一次派发周期的统计。
type CycleStats struct {
	Selected   int // 查询到的到期提醒数
	Delivered  int // 至少一个渠道投递成功
	Failed     int // 所有渠道均失败
	Duplicates int // 回执已存在，跳过投递
	Fired      int // 成功标记为 fired
	Errors     int // 处理出错（含 panic）
}

// Dispatcher 周期性地查询到期提醒并逐条投递。
//
// 每条提醒依次: 登记回执 → 按渠道计划投递 → 标记 fired。
// 无论投递成功与否都会标记 fired，不做重试。
type Dispatcher struct {
	store    ReminderSource
	channels *notify.Set
	receipts ReceiptClaimer
	logger   *slog.Logger
	opts     Options
	now      func() time.Time

	mu       sync.Mutex
	cron     *cron.Cron
	job      cron.Job
	initial  sync.WaitGroup
	stopping atomic.Bool
}

// NewDispatcher 创建派发器。
//
// 参数:
//
//	store: 提醒存储
//	channels: 投递渠道集合
//	receipts: 投递回执（可为 nil）
//	logger: 日志记录器
//	opts: 轮询参数
//
// 返回值:
//
//	*Dispatcher: 派发器实例
func NewDispatcher(store ReminderSource, channels *notify.Set, receipts ReceiptClaimer, logger *slog.Logger, opts Options) *Dispatcher {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.ChannelTimeout <= 0 {
		opts.ChannelTimeout = 5 * time.Second
	}
	return &Dispatcher{
		store:    store,
		channels: channels,
		receipts: receipts,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// Start 启动周期派发，并立即执行首个周期。
//
// 周期之间不会重叠：上一个周期未结束时，本次触发被跳过。
// ctx 仅用于携带请求范围的值，取消它不会中断正在处理的提醒，停止请调用 Stop。
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cron != nil {
		return fmt.Errorf("dispatcher already started")
	}

	base := context.WithoutCancel(ctx)
	cl := cronLogger{logger: d.logger}
	d.job = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(func() {
		d.RunCycle(base)
	}))
	d.cron = cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cl))
	d.cron.Schedule(cron.Every(d.opts.Interval), d.job)
	d.cron.Start()

	d.logger.Info("reminder dispatcher started",
		slog.String("interval", d.opts.Interval.String()),
		slog.Int("batch_size", d.opts.BatchSize),
		slog.String("mode", string(d.channels.Mode())))

	// 首次立即调度一次
	d.initial.Add(1)
	go func() {
		defer d.initial.Done()
		d.job.Run()
	}()
	return nil
}

// Stop 停止调度并等待正在处理的提醒完成。
//
// 正在运行的周期处理完当前提醒后停止，剩余的到期提醒留给下次启动。
// ctx 到期仍未完成时返回 ctx.Err()。
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	c := d.cron
	d.mu.Unlock()
	if c == nil {
		return nil
	}

	d.stopping.Store(true)
	cronDone := c.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		d.initial.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("reminder dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.logger.Warn("reminder dispatcher stop timed out")
		return ctx.Err()
	}
}

// RunCycle 执行一次派发周期。单条提醒的失败或 panic 不会中断整个批次。
func (d *Dispatcher) RunCycle(ctx context.Context) CycleStats {
	var stats CycleStats
	start := time.Now()
	defer func() {
		metrics.DispatchCyclesTotal.Inc()
		metrics.DispatchCycleDuration.Observe(time.Since(start).Seconds())
	}()

	due, err := d.store.ListDueUnfired(ctx, d.now().UTC(), d.opts.BatchSize)
	if err != nil {
		d.logger.Error("list due reminders failed", slog.String("error", err.Error()))
		return stats
	}
	stats.Selected = len(due)

	for i := range due {
		if d.stopping.Load() {
			d.logger.Info("dispatcher stopping, deferring remaining reminders", slog.Int("remaining", len(due)-i))
			break
		}
		d.process(ctx, &due[i], &stats)
	}

	if stats.Selected > 0 {
		d.logger.Info("dispatch cycle finished",
			slog.Int("selected", stats.Selected),
			slog.Int("fired", stats.Fired),
			slog.Int("delivered", stats.Delivered),
			slog.Int("failed", stats.Failed),
			slog.Int("duplicates", stats.Duplicates),
			slog.Int("errors", stats.Errors),
			slog.String("duration", time.Since(start).String()))
	}
	return stats
}

func (d *Dispatcher) process(ctx context.Context, r *model.Reminder, stats *CycleStats) {
	defer func() {
		if rec := recover(); rec != nil {
			stats.Errors++
			metrics.DispatchRemindersTotal.WithLabelValues("error").Inc()
			d.logger.Error("PANIC while marking reminder fired",
				slog.Uint64("reminder_id", uint64(r.ID)),
				slog.Any("panic", rec))
		}
	}()

	switch d.attempt(ctx, r) {
	case outcomeDelivered:
		stats.Delivered++
		metrics.DispatchRemindersTotal.WithLabelValues("delivered").Inc()
	case outcomeDuplicate:
		stats.Duplicates++
		metrics.DispatchRemindersTotal.WithLabelValues("duplicate").Inc()
	default:
		stats.Failed++
		metrics.DispatchRemindersTotal.WithLabelValues("failed").Inc()
	}

	fired, err := d.store.MarkFired(ctx, r.ID, r.Revision, d.now().UTC())
	if err != nil {
		stats.Errors++
		d.logger.Error("mark reminder fired failed",
			slog.Uint64("reminder_id", uint64(r.ID)),
			slog.String("error", err.Error()))
		return
	}
	if !fired {
		d.logger.Info("reminder changed during dispatch, keeping new schedule", slog.Uint64("reminder_id", uint64(r.ID)))
		return
	}
	stats.Fired++
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeDelivered
	outcomeDuplicate
)

// attempt 投递一条提醒。任何 panic 都视为投递失败。
func (d *Dispatcher) attempt(ctx context.Context, r *model.Reminder) (result outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			result = outcomeFailed
			d.logger.Error("PANIC while delivering reminder",
				slog.Uint64("reminder_id", uint64(r.ID)),
				slog.Any("panic", rec))
		}
	}()

	if d.receipts != nil {
		claimed, err := d.receipts.Claim(ctx, r.ID, r.Revision, r.FireAtUTC)
		if err != nil {
			d.logger.Warn("claim delivery receipt failed", slog.Uint64("reminder_id", uint64(r.ID)), slog.String("error", err.Error()))
		} else if !claimed {
			return outcomeDuplicate
		}
	}

	plan := d.channels.Plan(r.Channel)
	if len(plan) == 0 {
		d.logger.Warn("no delivery channel available",
			slog.Uint64("reminder_id", uint64(r.ID)),
			slog.String("channel", string(r.Channel)))
		return outcomeFailed
	}

	delivered := false
	for _, ch := range plan {
		attemptCtx, cancel := context.WithTimeout(ctx, d.opts.ChannelTimeout)
		ok := notify.Deliver(attemptCtx, ch, r, r.User, d.logger)
		cancel()
		d.logger.Debug("channel attempt",
			slog.Uint64("reminder_id", uint64(r.ID)),
			slog.String("channel", string(ch.Name())),
			slog.Bool("delivered", ok))
		delivered = delivered || ok
	}
	if delivered {
		return outcomeDelivered
	}
	return outcomeFailed
}

// cronLogger 将 cron 的日志接口适配到 slog。
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)
	l.logger.Error("cron: "+msg, args...)
}
