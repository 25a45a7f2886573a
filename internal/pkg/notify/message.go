package notify

import (
	"fmt"
	"strings"

	"produse/internal/model"
)

const (
	defaultTitle   = "Reminder"
	defaultContent = "It's time!"
)

func titleOf(r *model.Reminder) string {
	if t := strings.TrimSpace(r.Title); t != "" {
		return t
	}
	return defaultTitle
}

func contentOf(r *model.Reminder) string {
	if c := strings.TrimSpace(r.Description); c != "" {
		return c
	}
	return defaultContent
}

// ChatMessage 生成聊天转发消息正文。
func ChatMessage(r *model.Reminder) string {
	return fmt.Sprintf("🔔 *Reminder for you !!*\n\n_Title:_ %s\n\n_Detail:_ %s\n\nReady to run and crush it? 🔥\n— _Sent From Produse, stay organized_",
		titleOf(r), contentOf(r))
}
