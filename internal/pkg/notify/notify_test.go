package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"produse/internal/config"
	"produse/internal/model"

	"gopkg.in/gomail.v2"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubChannel struct {
	name  model.Channel
	ok    bool
	panic bool
	calls int
}

func (s *stubChannel) Name() model.Channel { return s.name }

func (s *stubChannel) Attempt(context.Context, *model.Reminder, *model.User) bool {
	s.calls++
	if s.panic {
		panic("boom")
	}
	return s.ok
}

func names(plan []Channel) []model.Channel {
	out := make([]model.Channel, 0, len(plan))
	for _, ch := range plan {
		out = append(out, ch.Name())
	}
	return out
}

func TestSetPlan(t *testing.T) {
	local := &stubChannel{name: model.ChannelLocalNotify}
	chat := &stubChannel{name: model.ChannelChatRelay}
	browser := &stubChannel{name: model.ChannelBrowserPoll}

	cases := []struct {
		name    string
		mode    model.Channel
		primary model.Channel
		want    []model.Channel
	}{
		{"chat plus local mode", model.ChannelLocalNotify, model.ChannelChatRelay, []model.Channel{model.ChannelChatRelay, model.ChannelLocalNotify}},
		{"local only once", model.ChannelLocalNotify, model.ChannelLocalNotify, []model.Channel{model.ChannelLocalNotify}},
		{"browser plus local mode", model.ChannelLocalNotify, model.ChannelBrowserPoll, []model.Channel{model.ChannelBrowserPoll, model.ChannelLocalNotify}},
		{"chat without local mode", model.ChannelBrowserPoll, model.ChannelChatRelay, []model.Channel{model.ChannelChatRelay}},
		{"legacy value normalized", model.ChannelBrowserPoll, model.Channel("whatsapp-group"), []model.Channel{model.ChannelChatRelay}},
		{"unknown falls back to mode", model.ChannelChatRelay, model.Channel("carrier-pigeon"), []model.Channel{model.ChannelChatRelay}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			set := NewSet(tc.mode, local, chat, browser)
			got := names(set.Plan(tc.primary))
			if len(got) != len(tc.want) {
				t.Fatalf("plan = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("plan = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestDeliver_RecoversPanic(t *testing.T) {
	ch := &stubChannel{name: model.ChannelChatRelay, panic: true}
	if Deliver(context.Background(), ch, &model.Reminder{ID: 7}, nil, testLogger()) {
		t.Fatalf("expected panicking channel to report failure")
	}
	if ch.calls != 1 {
		t.Fatalf("expected one attempt, got %d", ch.calls)
	}
}

func TestChatRelay_PostsTargetAndMessage(t *testing.T) {
	var got relayPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	relay := NewChatRelay(srv.URL, time.Second, 0, testLogger())
	r := &model.Reminder{ID: 3, UserID: 1, Title: "Standup", Description: "Daily sync"}
	if !relay.Attempt(context.Background(), r, &model.User{ID: 1, Phone: "628123"}) {
		t.Fatalf("expected delivery")
	}
	if got.Target != "628123" {
		t.Fatalf("unexpected target %q", got.Target)
	}
	if !strings.Contains(got.Message, "_Title:_ Standup") || !strings.Contains(got.Message, "_Detail:_ Daily sync") {
		t.Fatalf("unexpected message %q", got.Message)
	}
}

func TestChatRelay_NoPhoneSkips(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	relay := NewChatRelay(srv.URL, time.Second, 0, testLogger())
	if relay.Attempt(context.Background(), &model.Reminder{ID: 1}, &model.User{ID: 1}) {
		t.Fatalf("expected skip without phone")
	}
	if relay.Attempt(context.Background(), &model.Reminder{ID: 1}, nil) {
		t.Fatalf("expected skip without user")
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("relay should not be called")
	}
}

func TestChatRelay_FailureStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	relay := NewChatRelay(srv.URL, time.Second, 0, testLogger())
	if relay.Attempt(context.Background(), &model.Reminder{ID: 1}, &model.User{Phone: "1"}) {
		t.Fatalf("expected failure on 502")
	}

	srv.Close()
	if relay.Attempt(context.Background(), &model.Reminder{ID: 1}, &model.User{Phone: "1"}) {
		t.Fatalf("expected failure when relay is down")
	}
}

func TestChatRelay_TimeoutIsFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	relay := NewChatRelay(srv.URL, 5*time.Second, 0, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if relay.Attempt(ctx, &model.Reminder{ID: 1}, &model.User{Phone: "1"}) {
		t.Fatalf("expected timeout failure")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("attempt not bounded by context")
	}
}

func TestChatMessage_Defaults(t *testing.T) {
	msg := ChatMessage(&model.Reminder{})
	if !strings.Contains(msg, "_Title:_ Reminder") || !strings.Contains(msg, "_Detail:_ It's time!") {
		t.Fatalf("unexpected defaults: %q", msg)
	}
}

func TestLocalNotifier_PassesArgumentsWithoutShell(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "args.txt")
	script := filepath.Join(dir, "notify.sh")
	body := "#!/bin/sh\nprintf '%s\\n' \"$@\" > \"" + out + "\"\n"
	if err := os.WriteFile(script, []byte(body), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	n := NewLocalNotifier(script, testLogger())
	r := &model.Reminder{ID: 42, Title: "Pay rent; rm -rf /", Description: "$(whoami)"}
	if !n.Attempt(context.Background(), r, nil) {
		t.Fatalf("expected delivery")
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	want := "--id\n42\n--priority\nhigh\n--sound\n--title\nPay rent; rm -rf /\n--content\n$(whoami)\n"
	if string(data) != want {
		t.Fatalf("args = %q, want %q", string(data), want)
	}
}

func TestLocalNotifier_MissingCommandFails(t *testing.T) {
	n := NewLocalNotifier(filepath.Join(t.TempDir(), "does-not-exist"), testLogger())
	if n.Attempt(context.Background(), &model.Reminder{ID: 1}, nil) {
		t.Fatalf("expected failure for missing command")
	}
}

func TestLocalNotifier_NonZeroExitStillDelivered(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fail.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 3\n"), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	n := NewLocalNotifier(script, testLogger())
	if !n.Attempt(context.Background(), &model.Reminder{ID: 1}, nil) {
		t.Fatalf("expected invoked command to count as delivered")
	}
}

func TestBrowserPoll(t *testing.T) {
	if !(BrowserPoll{}).Attempt(context.Background(), &model.Reminder{}, nil) {
		t.Fatalf("browser poll is always delivered")
	}
	at := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	if !InBrowserWindow(at, at) || !InBrowserWindow(at, at.Add(4*time.Minute+59*time.Second)) {
		t.Fatalf("expected inside window")
	}
	if InBrowserWindow(at, at.Add(-time.Second)) || InBrowserWindow(at, at.Add(5*time.Minute)) {
		t.Fatalf("expected outside window")
	}
}

func TestEmailNotifier_SendVerification(t *testing.T) {
	cfg := &config.EmailConfig{SMTPHost: "smtp.test", SMTPPort: 25, FromEmail: "team@produse.test"}
	n := NewEmailNotifier(cfg, testLogger())

	var sent *gomail.Message
	n.send = func(m *gomail.Message) error {
		sent = m
		return nil
	}

	err := n.SendVerification(context.Background(), VerificationMail{
		To: "ana@example.com", Name: "<Ana>", Link: "http://x/verify?token=abc", Attempt: 2,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent == nil {
		t.Fatalf("expected message")
	}
	if got := sent.GetHeader("Subject"); len(got) != 1 || got[0] != "Resend: Verify your Produse Account" {
		t.Fatalf("unexpected subject %v", got)
	}
	if got := sent.GetHeader("To"); len(got) != 1 || got[0] != "ana@example.com" {
		t.Fatalf("unexpected recipient %v", got)
	}
	body := verificationBody(VerificationMail{Name: "<Ana>", Link: "http://x", Attempt: 2})
	if !strings.Contains(body, "&lt;Ana&gt;") || !strings.Contains(body, "attempt #2") {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestEmailNotifier_MissingConfig(t *testing.T) {
	n := NewEmailNotifier(&config.EmailConfig{}, testLogger())
	if err := n.SendVerification(context.Background(), VerificationMail{To: "a@b.c"}); err == nil {
		t.Fatalf("expected config error")
	}
}
