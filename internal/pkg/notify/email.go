package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"produse/internal/config"

	"gopkg.in/gomail.v2"
)

// VerificationMail 是一封账户验证邮件。
type VerificationMail struct {
	To      string
	Name    string
	Link    string
	Attempt int // 0 表示注册时的首封邮件，>0 表示第几次重发
}

// EmailNotifier 通过 SMTP 发送验证邮件。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
	send   func(m *gomail.Message) error
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	n := &EmailNotifier{cfg: cfg, logger: logger}
	n.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
		return d.DialAndSend(m)
	}
	return n
}

// SendVerification 发送账户验证邮件。
func (n *EmailNotifier) SendVerification(ctx context.Context, mail VerificationMail) error {
	if n.cfg.SMTPHost == "" || n.cfg.FromEmail == "" {
		return fmt.Errorf("email config missing")
	}
	if strings.TrimSpace(mail.To) == "" {
		return fmt.Errorf("empty recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", n.cfg.FromEmail, "Produse Team")
	m.SetHeader("To", mail.To)
	m.SetHeader("Subject", verificationSubject(mail))
	m.SetBody("text/html", verificationBody(mail))

	if err := n.send(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("verification email sent", slog.String("to", mail.To), slog.Int("attempt", mail.Attempt))
	return nil
}

func verificationSubject(mail VerificationMail) string {
	if mail.Attempt > 0 {
		return "Resend: Verify your Produse Account"
	}
	return "Verify your Produse Account"
}

func verificationBody(mail VerificationMail) string {
	name := html.EscapeString(mail.Name)
	link := html.EscapeString(mail.Link)
	if mail.Attempt > 0 {
		return fmt.Sprintf(`<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
  <h2 style="color: #1976D2;">Verify Your Email</h2>
  <p>Hi %s,</p>
  <p>Here is your new verification link. Please click below to activate:</p>
  <a href="%s" style="background-color: #1976D2; color: white; padding: 12px 24px; text-decoration: none; border-radius: 5px; font-weight: bold; display: inline-block;">Verify Account</a>
  <p style="font-size: 13px; color: #888;">This is attempt #%d.</p>
</div>`, name, link, mail.Attempt)
	}
	return fmt.Sprintf(`<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
  <h2 style="color: #1976D2;">Welcome to Produse!</h2>
  <p>Hi %s,</p>
  <p>Thanks for registering. Please click the button below to verify your account:</p>
  <a href="%s" style="background-color: #1976D2; color: white; padding: 12px 24px; text-decoration: none; border-radius: 5px; font-weight: bold; display: inline-block;">Verify Email Address</a>
  <p style="font-size: 14px; color: #666;">Or copy this link to your browser:</p>
  <p style="font-size: 13px; color: #888; word-break: break-all;">%s</p>
</div>`, name, link, link)
}
