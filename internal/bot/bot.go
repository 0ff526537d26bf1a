package bot

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/KnotATypo/Telegram-Bots/internal/models"
	"go.uber.org/zap"
)

const failureNotice = "Sorry, something went wrong while handling your message. Please try again."

// Behavior is the decision logic of one bot: given an inbound event it updates
// the chat's state and returns the replies to send.
type Behavior interface {
	Handle(ctx context.Context, event *models.Event) ([]models.Reply, error)
}

// Sender delivers replies to the chat platform.
type Sender interface {
	Send(ctx context.Context, reply models.Reply) error
}

// Bot is one tenant: a behavior bound to its credentials and outbound client.
type Bot struct {
	tenant   string
	secret   string
	behavior Behavior
	sender   Sender
	logger   *zap.Logger
}

func New(tenant, secret string, behavior Behavior, sender Sender, logger *zap.Logger) *Bot {
	return &Bot{
		tenant:   tenant,
		secret:   secret,
		behavior: behavior,
		sender:   sender,
		logger:   logger.With(zap.String("tenant", tenant)),
	}
}

func (b *Bot) Tenant() string {
	return b.tenant
}

// Authorized reports whether token matches the tenant's webhook secret.
func (b *Bot) Authorized(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(b.secret)) == 1
}

// HandleEvent runs the behavior and sends whatever it replied, even when it
// also returned an error.
func (b *Bot) HandleEvent(ctx context.Context, event *models.Event) error {
	b.logger.Info("Handling message",
		zap.String("event_id", event.ID),
		zap.Int64("chat_id", event.ChatID),
		zap.String("text", event.Text),
		zap.Bool("media", event.Media != nil))

	replies, err := b.behavior.Handle(ctx, event)
	b.Deliver(ctx, replies...)
	if err != nil {
		return fmt.Errorf("failed to handle message: %w", err)
	}
	return nil
}

func (b *Bot) NotifyFailure(ctx context.Context, chatID int64) error {
	return b.sender.Send(ctx, models.Reply{ChatID: chatID, Text: "⚠️ " + failureNotice})
}

// Deliver sends replies in order. Send errors are logged, not returned.
func (b *Bot) Deliver(ctx context.Context, replies ...models.Reply) {
	for _, reply := range replies {
		if err := b.sender.Send(ctx, reply); err != nil {
			b.logger.Error("Failed to send message",
				zap.Error(err),
				zap.Int64("chat_id", reply.ChatID))
		}
	}
}
