package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/KnotATypo/Telegram-Bots/internal/models"
	"go.uber.org/zap/zaptest"
)

type recordingSender struct {
	sent []models.Reply
	err  error
}

func (s *recordingSender) Send(ctx context.Context, reply models.Reply) error {
	s.sent = append(s.sent, reply)
	return s.err
}

type scriptedBehavior struct {
	replies []models.Reply
	err     error
}

func (b scriptedBehavior) Handle(ctx context.Context, event *models.Event) ([]models.Reply, error) {
	return b.replies, b.err
}

func TestBot_Authorized(t *testing.T) {
	b := New("expiry", "s3cret", scriptedBehavior{}, &recordingSender{}, zaptest.NewLogger(t))

	if b.Tenant() != "expiry" {
		t.Errorf("unexpected tenant %q", b.Tenant())
	}
	if !b.Authorized("s3cret") {
		t.Error("matching secret rejected")
	}
	for _, token := range []string{"", "s3cre", "s3cret ", "S3CRET"} {
		if b.Authorized(token) {
			t.Errorf("token %q accepted", token)
		}
	}
}

func TestBot_HandleEventDeliversInOrder(t *testing.T) {
	sender := &recordingSender{}
	behavior := scriptedBehavior{replies: []models.Reply{
		{ChatID: 1, Text: "first"},
		{ChatID: 2, Text: "second"},
	}}
	b := New("tools", "", behavior, sender, zaptest.NewLogger(t))

	if err := b.HandleEvent(context.Background(), text(1, "hi")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(sender.sent) != 2 || sender.sent[0].Text != "first" || sender.sent[1].Text != "second" {
		t.Errorf("unexpected deliveries: %+v", sender.sent)
	}
}

func TestBot_HandleEventError(t *testing.T) {
	cause := errors.New("disk full")
	sender := &recordingSender{}
	behavior := scriptedBehavior{replies: []models.Reply{{ChatID: 1, Text: "partial"}}, err: cause}
	b := New("tools", "", behavior, sender, zaptest.NewLogger(t))

	err := b.HandleEvent(context.Background(), text(1, "hi"))
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if len(sender.sent) != 1 {
		t.Error("replies produced before the error must still be sent")
	}
}

func TestBot_SendErrorsAreNotReturned(t *testing.T) {
	sender := &recordingSender{err: errors.New("chat not found")}
	behavior := scriptedBehavior{replies: []models.Reply{{ChatID: 1, Text: "a"}, {ChatID: 1, Text: "b"}}}
	b := New("tools", "", behavior, sender, zaptest.NewLogger(t))

	if err := b.HandleEvent(context.Background(), text(1, "hi")); err != nil {
		t.Fatalf("send failure leaked: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Error("a failed send must not stop later replies")
	}
}

func TestBot_NotifyFailure(t *testing.T) {
	sender := &recordingSender{}
	b := New("tools", "", scriptedBehavior{}, sender, zaptest.NewLogger(t))

	if err := b.NotifyFailure(context.Background(), 42); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 1 || sender.sent[0].ChatID != 42 {
		t.Fatalf("unexpected notice: %+v", sender.sent)
	}
	if !strings.HasPrefix(sender.sent[0].Text, "⚠️ ") {
		t.Errorf("notice should carry the warning prefix: %q", sender.sent[0].Text)
	}
}

func TestValidationError(t *testing.T) {
	err := invalid("32/01", "day %d out of range", 32)
	if err.Reason != "day 32 out of range" {
		t.Errorf("unexpected reason %q", err.Reason)
	}
	if !strings.Contains(err.Error(), `"32/01"`) {
		t.Errorf("error should quote the input: %s", err)
	}
}
