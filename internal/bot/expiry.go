package bot

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/KnotATypo/Telegram-Bots/internal/models"
	"github.com/KnotATypo/Telegram-Bots/internal/state"
	"github.com/KnotATypo/Telegram-Bots/internal/storage"
	"go.uber.org/zap"
)

const (
	AddingItem   state.Tag = "adding_item"
	AddingDate   state.Tag = "adding_date"
	RemovingItem state.Tag = "removing_item"
)

const dateLayout = "2006-01-02"

const (
	promptItem        = "Please provide the item to add:"
	promptDate        = "Please provide the expiration date (DD/MM):"
	promptInvalidDate = "Invalid date format. Please provide the expiration date in DD/MM format:"
	promptTextOnly    = "Please send a text message."
	promptChoose      = "Please choose an option from the keyboard."
)

var expiryKeyboard = &models.Keyboard{
	Rows:        [][]string{{"Add", "List", "Remove"}},
	Placeholder: "Choose an option",
}

// ExpiryStorage is what the expiry bot needs from persistence.
type ExpiryStorage interface {
	storage.ItemStorage
	storage.ChatRegistry
}

// Expiry tracks product expiry dates and reminds every known chat the day
// before and the day an item expires.
type Expiry struct {
	states *state.Store
	store  ExpiryStorage
	now    func() time.Time
	logger *zap.Logger
}

func NewExpiry(store ExpiryStorage, now func() time.Time, logger *zap.Logger) *Expiry {
	if now == nil {
		now = time.Now
	}
	return &Expiry{
		states: state.NewStore(),
		store:  store,
		now:    now,
		logger: logger,
	}
}

func (e *Expiry) Handle(ctx context.Context, event *models.Event) ([]models.Reply, error) {
	if !event.HasChat {
		e.logger.Debug("Ignoring event without chat", zap.String("event_id", event.ID))
		return nil, nil
	}
	chatID := event.ChatID

	if err := e.store.RegisterChat(ctx, chatID); err != nil {
		e.logger.Error("Failed to register chat",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}

	text := strings.TrimSpace(event.Text)
	if event.Media != nil || text == "" {
		return reply(chatID, promptTextOnly, nil), nil
	}

	if strings.EqualFold(text, "stop") {
		e.states.Clear(chatID)
		return reply(chatID, "Operation cancelled.", expiryKeyboard), nil
	}

	st := e.states.Get(chatID)
	switch st.Tag {
	case AddingItem:
		e.states.SetValue(chatID, "item", text)
		e.states.Set(chatID, AddingDate)
		return reply(chatID, promptDate, nil), nil
	case AddingDate:
		return e.saveItem(ctx, chatID, st.String("item"), text)
	case RemovingItem:
		return e.removeItem(ctx, chatID, text)
	}

	switch strings.ToLower(text) {
	case "add":
		e.states.Set(chatID, AddingItem)
		return reply(chatID, promptItem, &models.Keyboard{Remove: true}), nil
	case "list":
		return e.listItems(ctx, chatID)
	case "remove":
		return e.removeOptions(ctx, chatID)
	default:
		return reply(chatID, promptChoose, expiryKeyboard), nil
	}
}

func (e *Expiry) saveItem(ctx context.Context, chatID int64, name, text string) ([]models.Reply, error) {
	date, err := ParseExpiryDate(text, e.now())
	if err != nil {
		e.logger.Debug("Rejected expiry date",
			zap.Int64("chat_id", chatID),
			zap.String("input", text),
			zap.String("reason", err.Error()))
		return reply(chatID, promptInvalidDate, nil), nil
	}

	item := &models.Item{Name: name, Date: date.Format(dateLayout)}
	if err := e.store.AddItem(ctx, item); err != nil {
		return nil, err
	}

	e.states.Clear(chatID)
	return reply(chatID, fmt.Sprintf("%s will expire on %s", item.Name, item.Date), expiryKeyboard), nil
}

func (e *Expiry) listItems(ctx context.Context, chatID int64) ([]models.Reply, error) {
	items, err := e.store.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return reply(chatID, "No items found.", expiryKeyboard), nil
	}

	sortItems(items)

	var b strings.Builder
	b.WriteString("Items:\n")
	for _, item := range items {
		fmt.Fprintf(&b, "- %s (expires on %s)\n", item.Name, item.Date)
	}
	return reply(chatID, b.String(), expiryKeyboard), nil
}

func (e *Expiry) removeOptions(ctx context.Context, chatID int64) ([]models.Reply, error) {
	items, err := e.store.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return reply(chatID, "No items to remove.", expiryKeyboard), nil
	}

	seen := make(map[string]bool)
	var rows [][]string
	for _, item := range items {
		if seen[item.Name] {
			continue
		}
		seen[item.Name] = true
		rows = append(rows, []string{item.Name})
	}

	e.states.Set(chatID, RemovingItem)
	return reply(chatID, "Please choose an item to remove:", &models.Keyboard{
		Rows:        rows,
		Placeholder: "Choose an option",
	}), nil
}

func (e *Expiry) removeItem(ctx context.Context, chatID int64, name string) ([]models.Reply, error) {
	removed, err := e.store.RemoveItems(ctx, name)
	if err != nil {
		return nil, err
	}

	e.states.Clear(chatID)
	if removed == 0 {
		return reply(chatID, fmt.Sprintf("No item named %s was found.", name), expiryKeyboard), nil
	}
	return reply(chatID, fmt.Sprintf("%s has been removed.", name), expiryKeyboard), nil
}

// DueNotifications builds the reminders for items expiring today or tomorrow
// relative to now, one per registered chat.
func (e *Expiry) DueNotifications(ctx context.Context, now time.Time) ([]models.Reply, error) {
	items, err := e.store.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	chats, err := e.store.ListChats(ctx)
	if err != nil {
		return nil, err
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	tomorrow := today.AddDate(0, 0, 1)

	sortItems(items)

	var replies []models.Reply
	for _, item := range items {
		date, err := time.ParseInLocation(dateLayout, item.Date, now.Location())
		if err != nil {
			e.logger.Warn("Skipping item with bad date",
				zap.String("item", item.Name),
				zap.String("date", item.Date))
			continue
		}

		var text string
		switch {
		case date.Equal(today):
			text = fmt.Sprintf("%s will expire today", item.Name)
		case date.Equal(tomorrow):
			text = fmt.Sprintf("%s will expire tomorrow", item.Name)
		default:
			continue
		}
		for _, chatID := range chats {
			replies = append(replies, models.Reply{ChatID: chatID, Text: text})
		}
	}
	return replies, nil
}

// ParseExpiryDate parses a DD/MM date. The year is the current one unless the
// day has already come this year (today included), in which case it is next
// year.
func ParseExpiryDate(text string, now time.Time) (time.Time, error) {
	dayText, monthText, found := strings.Cut(strings.TrimSpace(text), "/")
	if !found {
		return time.Time{}, invalid(text, "expected DD/MM")
	}

	day, err := strconv.Atoi(strings.TrimSpace(dayText))
	if err != nil {
		return time.Time{}, invalid(text, "day is not a number")
	}
	month, err := strconv.Atoi(strings.TrimSpace(monthText))
	if err != nil {
		return time.Time{}, invalid(text, "month is not a number")
	}
	if day < 1 || day > 31 {
		return time.Time{}, invalid(text, "day out of range")
	}
	if month < 1 || month > 12 {
		return time.Time{}, invalid(text, "month out of range")
	}

	year := now.Year()
	if month < int(now.Month()) || (month == int(now.Month()) && day <= now.Day()) {
		year++
	}

	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location())
	if date.Day() != day {
		return time.Time{}, invalid(text, "%02d/%02d does not exist in %d", day, month, year)
	}
	return date, nil
}

// sortItems orders items by ascending expiry date. Unparseable dates go last.
func sortItems(items []*models.Item) {
	slices.SortStableFunc(items, func(a, b *models.Item) int {
		da, errA := time.Parse(dateLayout, a.Date)
		db, errB := time.Parse(dateLayout, b.Date)
		switch {
		case errA != nil && errB != nil:
			return 0
		case errA != nil:
			return 1
		case errB != nil:
			return -1
		}
		return da.Compare(db)
	})
}

func reply(chatID int64, text string, keyboard *models.Keyboard) []models.Reply {
	return []models.Reply{{ChatID: chatID, Text: text, Keyboard: keyboard}}
}
