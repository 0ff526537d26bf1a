// Package telegram adapts the Telegram Bot API to the bots: sending replies,
// fetching media and decoding webhook updates.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/KnotATypo/Telegram-Bots/internal/models"
	"go.uber.org/zap"
)

const (
	DefaultAPIEndpoint  = tgbotapi.APIEndpoint
	DefaultFileEndpoint = tgbotapi.FileEndpoint
)

// Client is one bot's connection to the Bot API.
type Client struct {
	api          *tgbotapi.BotAPI
	fileEndpoint string
	httpClient   *http.Client
	logger       *zap.Logger
}

// New creates a client for token. apiEndpoint and fileEndpoint are format
// strings like tgbotapi.APIEndpoint and tgbotapi.FileEndpoint; empty values
// select the public Bot API.
func New(token, apiEndpoint, fileEndpoint string, logger *zap.Logger) (*Client, error) {
	if apiEndpoint == "" {
		apiEndpoint = DefaultAPIEndpoint
	}
	if fileEndpoint == "" {
		fileEndpoint = DefaultFileEndpoint
	}

	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, apiEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Authorized bot", zap.String("username", api.Self.UserName))

	return &Client{
		api:          api,
		fileEndpoint: fileEndpoint,
		httpClient:   &http.Client{Timeout: 2 * time.Minute},
		logger:       logger,
	}, nil
}

// Send delivers one reply.
func (c *Client) Send(ctx context.Context, reply models.Reply) error {
	msg := tgbotapi.NewMessage(reply.ChatID, reply.Text)
	if markup := replyMarkup(reply.Keyboard); markup != nil {
		msg.ReplyMarkup = markup
	}

	c.logger.Debug("Sending message",
		zap.Int64("chat_id", reply.ChatID),
		zap.String("text", reply.Text))

	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Fetch makes the media file available locally. The returned cleanup removes
// any temporary copy and must always be called.
func (c *Client) Fetch(ctx context.Context, fileID string) (string, func(), error) {
	file, err := c.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to get file: %w", err)
	}

	// A local Bot API server returns an absolute path on this machine.
	if filepath.IsAbs(file.FilePath) {
		if _, err := os.Stat(file.FilePath); err == nil {
			return file.FilePath, func() { os.Remove(file.FilePath) }, nil
		}
	}

	url := fmt.Sprintf(c.fileEndpoint, c.api.Token, file.FilePath)
	path, err := c.download(ctx, url, filepath.Ext(file.FilePath))
	if err != nil {
		return "", func() {}, err
	}
	return path, func() { os.Remove(path) }, nil
}

func (c *Client) download(ctx context.Context, url, ext string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download file: status %d", resp.StatusCode)
	}

	f, err := os.CreateTemp("", "media-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return f.Name(), nil
}

// replyMarkup converts a Keyboard into Bot API markup, or nil for none.
func replyMarkup(k *models.Keyboard) interface{} {
	if k == nil {
		return nil
	}
	if k.Remove {
		return tgbotapi.NewRemoveKeyboard(false)
	}

	rows := make([][]tgbotapi.KeyboardButton, 0, len(k.Rows))
	for _, row := range k.Rows {
		buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, text := range row {
			buttons = append(buttons, tgbotapi.NewKeyboardButton(strings.TrimSpace(text)))
		}
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(buttons...))
	}

	markup := tgbotapi.NewReplyKeyboard(rows...)
	markup.InputFieldPlaceholder = k.Placeholder
	return markup
}
