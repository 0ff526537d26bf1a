package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/KnotATypo/Telegram-Bots/internal/models"
	"github.com/KnotATypo/Telegram-Bots/internal/powermeter"
	"github.com/KnotATypo/Telegram-Bots/internal/state"
	"github.com/KnotATypo/Telegram-Bots/internal/storage"
	"go.uber.org/zap"
)

const (
	PowerMeter    state.Tag = "power_meter"
	CheckEstimate state.Tag = "check_estimate"
	Occupancy     state.Tag = "occupancy"
)

var toolNames = map[state.Tag]string{
	PowerMeter:    "Power meter",
	CheckEstimate: "Check estimate",
	Occupancy:     "Occupancy",
}

var toolOrder = []state.Tag{PowerMeter, CheckEstimate, Occupancy}

var toolsKeyboard = &models.Keyboard{
	Rows:        [][]string{{"Power meter", "Check estimate", "Occupancy"}},
	Placeholder: "Choose an option",
}

const (
	promptVideo          = "Please send video"
	promptNotVideo       = "That wasn't a video, try again"
	promptUnexpected     = "It looks like you sent a video, but I wasn't expecting one. Please select an option from the keyboard."
	promptEstimate       = "Provide estimate in minutes"
	promptEstimateNumber = "Please provide an estimate in minutes"
	promptOccupancy      = "Send the current count, or a day and time to search (e.g. \"mon 14\")"
	promptCount          = "Please send a count of zero or more, or a day and time to search"
)

// MediaFetcher makes a platform file available as a local path. cleanup
// releases it and is always safe to call.
type MediaFetcher interface {
	Fetch(ctx context.Context, fileID string) (path string, cleanup func(), err error)
}

// Meter estimates power draw from a local video file.
type Meter interface {
	Measure(ctx context.Context, path string) (powermeter.Reading, error)
}

// Tools bundles small utilities: reading a power meter from a video, timing
// a task against an estimate, and logging room occupancy.
type Tools struct {
	states    *state.Store
	estimates *Estimates
	occupancy storage.OccupancyStorage
	fetcher   MediaFetcher
	meter     Meter
	now       func() time.Time
	logger    *zap.Logger
}

func NewTools(occupancy storage.OccupancyStorage, fetcher MediaFetcher, meter Meter, now func() time.Time, logger *zap.Logger) *Tools {
	if now == nil {
		now = time.Now
	}
	return &Tools{
		states:    state.NewStore(),
		estimates: NewEstimates(),
		occupancy: occupancy,
		fetcher:   fetcher,
		meter:     meter,
		now:       now,
		logger:    logger,
	}
}

func (t *Tools) Handle(ctx context.Context, event *models.Event) ([]models.Reply, error) {
	if !event.HasChat {
		t.logger.Debug("Ignoring event without chat", zap.String("event_id", event.ID))
		return nil, nil
	}
	chatID := event.ChatID
	st := t.states.Get(chatID)

	if event.Media != nil {
		return t.handleMedia(ctx, chatID, st.Tag, event.Media)
	}

	text := strings.ToLower(strings.TrimSpace(event.Text))

	// global commands, valid in any state
	switch text {
	case "/start":
		t.states.Clear(chatID)
		return reply(chatID, "Choose a tool:", toolsKeyboard), nil
	case "stop", "cancel", "clear":
		t.states.Clear(chatID)
		return reply(chatID, "Operation cancelled.", toolsKeyboard), nil
	case "debug":
		return reply(chatID, t.debug(st), nil), nil
	case "done":
		if p, ok := t.estimates.Finish(chatID); ok {
			actual, diff := p.Result(t.now())
			report := fmt.Sprintf("Estimate: %d\nActual: %s\nDifference: %s%%",
				p.ClaimedMinutes, formatNumber(actual), formatNumber(diff))
			return reply(chatID, report, toolsKeyboard), nil
		}
	}

	switch st.Tag {
	case PowerMeter:
		return reply(chatID, promptNotVideo, nil), nil
	case CheckEstimate:
		return t.storeEstimate(chatID, event.Text), nil
	case Occupancy:
		return t.handleOccupancy(ctx, chatID, event.Text)
	default:
		return t.selectTool(chatID, text), nil
	}
}

func (t *Tools) handleMedia(ctx context.Context, chatID int64, tag state.Tag, media *models.MediaRef) ([]models.Reply, error) {
	if tag != PowerMeter {
		if media.IsVideo() {
			return reply(chatID, promptUnexpected, toolsKeyboard), nil
		}
		return reply(chatID, "Please select an option from the keyboard.", toolsKeyboard), nil
	}
	if !media.IsVideo() {
		return reply(chatID, promptNotVideo, nil), nil
	}

	path, cleanup, err := t.fetcher.Fetch(ctx, media.FileID)
	defer cleanup()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch video: %w", err)
	}

	reading, err := t.meter.Measure(ctx, path)
	if errors.Is(err, powermeter.ErrNoSignal) {
		return reply(chatID, fmt.Sprintf("Error: %v. Please try again.", err), nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to measure power: %w", err)
	}

	t.states.Clear(chatID)
	return reply(chatID, reading.String(), toolsKeyboard), nil
}

func (t *Tools) selectTool(chatID int64, text string) []models.Reply {
	tag := state.Tag(strings.ReplaceAll(text, " ", "_"))

	switch tag {
	case PowerMeter:
		t.states.Set(chatID, tag)
		return reply(chatID, promptVideo, &models.Keyboard{Remove: true})
	case CheckEstimate:
		t.states.Set(chatID, tag)
		return reply(chatID, promptEstimate, &models.Keyboard{Remove: true})
	case Occupancy:
		t.states.Set(chatID, tag)
		return reply(chatID, promptOccupancy, &models.Keyboard{Remove: true})
	}

	names := make([]string, 0, len(toolOrder))
	for _, tag := range toolOrder {
		names = append(names, toolNames[tag])
	}
	return reply(chatID, "Please select from options: "+strings.Join(names, ", "), toolsKeyboard)
}

func (t *Tools) storeEstimate(chatID int64, text string) []models.Reply {
	minutes, err := parseCount(text)
	if err == nil && minutes == 0 {
		err = invalid(text, "estimate must be positive")
	}
	if err != nil {
		return reply(chatID, promptEstimateNumber, nil)
	}

	t.estimates.Start(chatID, t.now(), minutes)
	t.states.Clear(chatID)
	return reply(chatID, `Estimate stored. Send "done" to complete estimate`, toolsKeyboard)
}

func (t *Tools) handleOccupancy(ctx context.Context, chatID int64, text string) ([]models.Reply, error) {
	text = strings.TrimSpace(text)
	now := t.now()

	count, err := parseCount(text)
	var verr *ValidationError
	switch {
	case err == nil:
		row := &models.Occupancy{Time: now, Count: count}
		if err := t.occupancy.AddOccupancy(ctx, row); err != nil {
			return nil, err
		}
		t.states.Clear(chatID)
		label := now.Format(occupancyLabel)
		return reply(chatID, fmt.Sprintf("Recorded %d at %s.", count, label), toolsKeyboard), nil
	case errors.As(err, &verr) && verr.Reason == "negative":
		return reply(chatID, promptCount, nil), nil
	}

	rows, err := t.occupancy.ListOccupancy(ctx)
	if err != nil {
		return nil, err
	}
	matched := matchOccupancy(rows, text, now.Location())

	t.states.Clear(chatID)
	if len(matched) == 0 {
		return reply(chatID, fmt.Sprintf("No records match %q.", text), toolsKeyboard), nil
	}
	return reply(chatID, formatOccupancy(matched, now.Location()), toolsKeyboard), nil
}

func (t *Tools) debug(st state.ChatState) string {
	text := fmt.Sprintf("State: %s", st.Tag)
	if p, ok := t.estimates.Get(st.ChatID); ok {
		text += fmt.Sprintf("\nEstimate: %d minutes, started %s", p.ClaimedMinutes, p.StartedAt.Format(time.RFC3339))
	} else {
		text += "\nEstimate: none"
	}
	return text
}

// parseCount parses a non-negative whole number.
func parseCount(text string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, invalid(text, "not a number")
	}
	if n < 0 {
		return 0, invalid(text, "negative")
	}
	return n, nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
