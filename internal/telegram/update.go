package telegram

import (
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/KnotATypo/Telegram-Bots/internal/models"
	"github.com/google/uuid"
)

// EventFromUpdate converts a webhook update into an Event for tenant. It
// returns false for updates that carry no message (edits, callbacks, ...).
func EventFromUpdate(tenant string, update tgbotapi.Update) (*models.Event, bool) {
	message := update.Message
	if message == nil {
		return nil, false
	}

	event := &models.Event{
		ID:         uuid.New().String(),
		Tenant:     tenant,
		Text:       message.Text,
		ReceivedAt: time.Now(),
	}
	if message.Chat != nil {
		event.ChatID = message.Chat.ID
		event.HasChat = true
	}

	switch {
	case message.Video != nil:
		event.Media = &models.MediaRef{
			FileID:   message.Video.FileID,
			Kind:     models.VideoMedia,
			MimeType: message.Video.MimeType,
		}
	case message.VideoNote != nil:
		event.Media = &models.MediaRef{
			FileID: message.VideoNote.FileID,
			Kind:   models.VideoNoteMedia,
		}
	case message.Document != nil:
		event.Media = &models.MediaRef{
			FileID:   message.Document.FileID,
			Kind:     models.DocumentMedia,
			MimeType: message.Document.MimeType,
		}
	case len(message.Photo) > 0:
		largest := message.Photo[len(message.Photo)-1]
		event.Media = &models.MediaRef{
			FileID: largest.FileID,
			Kind:   models.PhotoMedia,
		}
	}

	if event.Media != nil && event.Text == "" {
		event.Text = message.Caption
	}

	return event, true
}
