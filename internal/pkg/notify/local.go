package notify

import (
	"context"
	"log/slog"
	"os/exec"
	"strconv"

	"produse/internal/model"
)

// LocalNotifier 通过本机通知命令（默认 termux-notification）发送提醒。
// 参数直接传给进程，不经过 shell。
type LocalNotifier struct {
	command string
	logger  *slog.Logger
}

// NewLocalNotifier 创建本机通知渠道。
func NewLocalNotifier(command string, logger *slog.Logger) *LocalNotifier {
	if command == "" {
		command = "termux-notification"
	}
	return &LocalNotifier{command: command, logger: logger}
}

func (n *LocalNotifier) Name() model.Channel { return model.ChannelLocalNotify }

// Attempt 启动通知命令。命令成功启动即视为已投递，退出码只记录日志。
func (n *LocalNotifier) Attempt(ctx context.Context, r *model.Reminder, _ *model.User) bool {
	cmd := exec.CommandContext(ctx, n.command, n.args(r)...)
	if err := cmd.Start(); err != nil {
		n.logger.Warn("local notify start failed",
			slog.Uint64("reminder_id", uint64(r.ID)),
			slog.String("command", n.command),
			slog.String("error", err.Error()))
		return false
	}
	if err := cmd.Wait(); err != nil {
		n.logger.Warn("local notify exited with error",
			slog.Uint64("reminder_id", uint64(r.ID)),
			slog.String("error", err.Error()))
	}
	return true
}

func (n *LocalNotifier) args(r *model.Reminder) []string {
	return []string{
		"--id", strconv.FormatUint(uint64(r.ID), 10),
		"--priority", "high",
		"--sound",
		"--title", titleOf(r),
		"--content", contentOf(r),
	}
}
