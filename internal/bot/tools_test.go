package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/KnotATypo/Telegram-Bots/internal/models"
	"github.com/KnotATypo/Telegram-Bots/internal/powermeter"
	"github.com/KnotATypo/Telegram-Bots/internal/state"
	"github.com/KnotATypo/Telegram-Bots/internal/storage"
	"go.uber.org/zap/zaptest"
)

type fakeFetcher struct {
	fetched []string
	cleaned int
	err     error
}

func (f *fakeFetcher) Fetch(ctx context.Context, fileID string) (string, func(), error) {
	f.fetched = append(f.fetched, fileID)
	if f.err != nil {
		return "", func() {}, f.err
	}
	return "/tmp/" + fileID, func() { f.cleaned++ }, nil
}

type fakeMeter struct {
	reading powermeter.Reading
	err     error
	paths   []string
}

func (m *fakeMeter) Measure(ctx context.Context, path string) (powermeter.Reading, error) {
	m.paths = append(m.paths, path)
	return m.reading, m.err
}

// mutableClock is a settable time source.
type mutableClock struct {
	now time.Time
}

func (c *mutableClock) Now() time.Time { return c.now }

type toolsFixture struct {
	tools   *Tools
	store   *storage.MemoryStorage
	fetcher *fakeFetcher
	meter   *fakeMeter
	clock   *mutableClock
}

func newTools(t *testing.T) *toolsFixture {
	t.Helper()
	f := &toolsFixture{
		store:   storage.NewMemoryStorage(),
		fetcher: &fakeFetcher{},
		meter:   &fakeMeter{reading: powermeter.Reading{Watts: 6750}},
		clock:   &mutableClock{now: time.Date(2024, 6, 17, 14, 5, 0, 0, time.UTC)},
	}
	f.tools = NewTools(f.store, f.fetcher, f.meter, f.clock.Now, zaptest.NewLogger(t))
	return f
}

func toolsText(chatID int64, s string) *models.Event {
	return &models.Event{ID: "e", Tenant: "tools", ChatID: chatID, HasChat: true, Text: s}
}

func toolsVideo(chatID int64) *models.Event {
	return &models.Event{ID: "v", Tenant: "tools", ChatID: chatID, HasChat: true,
		Media: &models.MediaRef{FileID: "vid-1", Kind: models.VideoMedia, MimeType: "video/mp4"}}
}

func TestTools_SelectTool(t *testing.T) {
	tests := []struct {
		input  string
		expect state.Tag
		reply  string
	}{
		{"Power meter", PowerMeter, promptVideo},
		{"power_meter", PowerMeter, promptVideo},
		{"CHECK ESTIMATE", CheckEstimate, promptEstimate},
		{"Occupancy", Occupancy, promptOccupancy},
		{"teleport", state.Idle, "Please select from options: Power meter, Check estimate, Occupancy"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			f := newTools(t)
			r := send(t, f.tools, toolsText(1, tt.input))
			if r.Text != tt.reply {
				t.Errorf("got reply %q, want %q", r.Text, tt.reply)
			}
			if got := f.tools.states.Get(1).Tag; got != tt.expect {
				t.Errorf("got state %s, want %s", got, tt.expect)
			}
		})
	}
}

func TestTools_PowerMeter(t *testing.T) {
	f := newTools(t)
	send(t, f.tools, toolsText(1, "Power meter"))

	r := send(t, f.tools, toolsText(1, "here you go"))
	if r.Text != promptNotVideo {
		t.Errorf("unexpected reply to text: %q", r.Text)
	}
	if f.tools.states.Get(1).Tag != PowerMeter {
		t.Fatal("text must keep power_meter")
	}

	r = send(t, f.tools, toolsVideo(1))
	if r.Text != "6.75 kW" {
		t.Errorf("unexpected reading reply %q", r.Text)
	}
	if r.Keyboard != toolsKeyboard {
		t.Error("reading should restore the menu")
	}
	if f.tools.states.Get(1).Tag != state.Idle {
		t.Error("expected idle after a reading")
	}
	if len(f.meter.paths) != 1 || f.meter.paths[0] != "/tmp/vid-1" {
		t.Errorf("meter not called with fetched path: %v", f.meter.paths)
	}
	if f.fetcher.cleaned != 1 {
		t.Error("fetched media not cleaned up")
	}
}

func TestTools_PowerMeterNoSignal(t *testing.T) {
	f := newTools(t)
	f.meter.err = powermeter.ErrNoSignal
	send(t, f.tools, toolsText(1, "Power meter"))

	r := send(t, f.tools, toolsVideo(1))
	if !strings.HasPrefix(r.Text, "Error: ") {
		t.Errorf("expected error reply, got %q", r.Text)
	}
	if f.tools.states.Get(1).Tag != PowerMeter {
		t.Error("no-signal must keep power_meter for a retry")
	}
}

func TestTools_PowerMeterFailures(t *testing.T) {
	f := newTools(t)
	f.fetcher.err = errors.New("file too big")
	send(t, f.tools, toolsText(1, "Power meter"))

	if _, err := f.tools.Handle(context.Background(), toolsVideo(1)); err == nil {
		t.Error("expected fetch error")
	}

	f.fetcher.err = nil
	f.meter.err = errors.New("ffmpeg missing")
	if _, err := f.tools.Handle(context.Background(), toolsVideo(1)); err == nil {
		t.Error("expected measure error")
	}
	if f.fetcher.cleaned != 1 {
		t.Errorf("expected cleanup after measure failure, got %d", f.fetcher.cleaned)
	}
}

func TestTools_UnexpectedMedia(t *testing.T) {
	f := newTools(t)

	r := send(t, f.tools, toolsVideo(1))
	if r.Text != promptUnexpected {
		t.Errorf("unexpected reply %q", r.Text)
	}
	if len(f.fetcher.fetched) != 0 {
		t.Error("video outside power_meter must not be fetched")
	}

	send(t, f.tools, toolsText(1, "Power meter"))
	photo := &models.Event{ID: "p", ChatID: 1, HasChat: true, Media: &models.MediaRef{FileID: "p", Kind: models.PhotoMedia}}
	if r := send(t, f.tools, photo); r.Text != promptNotVideo {
		t.Errorf("unexpected reply to photo: %q", r.Text)
	}
}

func TestTools_EstimateFlow(t *testing.T) {
	f := newTools(t)
	send(t, f.tools, toolsText(1, "Check estimate"))

	for _, bad := range []string{"soon", "0", "-5", "1.5"} {
		r := send(t, f.tools, toolsText(1, bad))
		if r.Text != promptEstimateNumber {
			t.Errorf("%q: unexpected reply %q", bad, r.Text)
		}
		if f.tools.states.Get(1).Tag != CheckEstimate {
			t.Fatalf("%q: must stay in check_estimate", bad)
		}
	}

	r := send(t, f.tools, toolsText(1, "20"))
	if !strings.HasPrefix(r.Text, "Estimate stored.") {
		t.Errorf("unexpected reply %q", r.Text)
	}
	if f.tools.states.Get(1).Tag != state.Idle {
		t.Fatal("expected idle after storing an estimate")
	}

	// "done" works from any state
	send(t, f.tools, toolsText(1, "Occupancy"))
	f.clock.now = f.clock.now.Add(25 * time.Minute)

	r = send(t, f.tools, toolsText(1, "Done"))
	want := "Estimate: 20\nActual: 25\nDifference: 25%"
	if r.Text != want {
		t.Errorf("got %q, want %q", r.Text, want)
	}
	if _, ok := f.tools.estimates.Get(1); ok {
		t.Error("pending estimate not deleted")
	}
	if f.tools.states.Get(1).Tag != Occupancy {
		t.Error("done must not change the conversation state")
	}
}

func TestTools_DoneWithoutEstimate(t *testing.T) {
	f := newTools(t)

	r := send(t, f.tools, toolsText(1, "done"))
	if !strings.HasPrefix(r.Text, "Please select from options") {
		t.Errorf("expected options prompt, got %q", r.Text)
	}
}

func TestPendingEstimate_Result(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p := PendingEstimate{StartedAt: start, ClaimedMinutes: 30}

	actual, diff := p.Result(start.Add(20*time.Minute + 30*time.Second))
	if actual != 20.5 {
		t.Errorf("actual = %v, want 20.5", actual)
	}
	if diff != 31.7 {
		t.Errorf("difference = %v, want 31.7", diff)
	}
}

func TestTools_GlobalCommands(t *testing.T) {
	for _, cmd := range []string{"stop", "Cancel", "CLEAR", "/start"} {
		t.Run(cmd, func(t *testing.T) {
			f := newTools(t)
			send(t, f.tools, toolsText(1, "Check estimate"))

			r := send(t, f.tools, toolsText(1, cmd))
			if r.Keyboard != toolsKeyboard {
				t.Errorf("expected menu, got %+v", r)
			}
			if f.tools.states.Get(1).Tag != state.Idle {
				t.Error("expected idle")
			}
		})
	}
}

func TestTools_Debug(t *testing.T) {
	f := newTools(t)
	send(t, f.tools, toolsText(1, "Check estimate"))

	r := send(t, f.tools, toolsText(1, "debug"))
	if r.Text != "State: check_estimate\nEstimate: none" {
		t.Errorf("unexpected debug output %q", r.Text)
	}

	send(t, f.tools, toolsText(1, "15"))
	r = send(t, f.tools, toolsText(1, "debug"))
	if !strings.Contains(r.Text, "State: idle") || !strings.Contains(r.Text, "Estimate: 15 minutes") {
		t.Errorf("unexpected debug output %q", r.Text)
	}
}

func TestTools_OccupancyRecord(t *testing.T) {
	f := newTools(t)
	send(t, f.tools, toolsText(1, "Occupancy"))

	r := send(t, f.tools, toolsText(1, "12"))
	if r.Text != "Recorded 12 at Monday 14:05." {
		t.Errorf("unexpected reply %q", r.Text)
	}
	if f.tools.states.Get(1).Tag != state.Idle {
		t.Error("expected idle after recording")
	}

	rows, _ := f.store.ListOccupancy(context.Background())
	if len(rows) != 1 || rows[0].Count != 12 {
		t.Errorf("unexpected rows: %+v", rows)
	}

	send(t, f.tools, toolsText(1, "Occupancy"))
	if r := send(t, f.tools, toolsText(1, "-1")); r.Text != promptCount {
		t.Errorf("unexpected reply to negative count: %q", r.Text)
	}
	if f.tools.states.Get(1).Tag != Occupancy {
		t.Error("negative count must keep occupancy")
	}
}

func TestTools_OccupancySearch(t *testing.T) {
	f := newTools(t)
	ctx := context.Background()
	for _, row := range []models.Occupancy{
		{Time: time.Date(2024, 6, 23, 14, 30, 0, 0, time.UTC), Count: 7}, // Sunday
		{Time: time.Date(2024, 6, 19, 9, 0, 0, 0, time.UTC), Count: 3},   // Wednesday
		{Time: time.Date(2024, 6, 17, 14, 45, 0, 0, time.UTC), Count: 9}, // Monday
		{Time: time.Date(2024, 6, 10, 14, 5, 0, 0, time.UTC), Count: 11}, // Monday
	} {
		f.store.AddOccupancy(ctx, &row)
	}

	send(t, f.tools, toolsText(1, "Occupancy"))
	r := send(t, f.tools, toolsText(1, "14:"))
	want := "Monday 14:05 - 11\nMonday 14:45 - 9\nSunday 14:30 - 7"
	if r.Text != want {
		t.Errorf("got %q, want %q", r.Text, want)
	}
	if f.tools.states.Get(1).Tag != state.Idle {
		t.Error("expected idle after search")
	}

	send(t, f.tools, toolsText(1, "Occupancy"))
	if r := send(t, f.tools, toolsText(1, "MON 14")); r.Text != "Monday 14:05 - 11\nMonday 14:45 - 9" {
		t.Errorf("unexpected multi-word match %q", r.Text)
	}

	send(t, f.tools, toolsText(1, "Occupancy"))
	if r := send(t, f.tools, toolsText(1, "friday")); !strings.HasPrefix(r.Text, "No records match") {
		t.Errorf("unexpected reply %q", r.Text)
	}
}

func TestWeekdayIndex(t *testing.T) {
	if weekdayIndex(time.Monday) != 0 || weekdayIndex(time.Sunday) != 6 || weekdayIndex(time.Wednesday) != 2 {
		t.Error("weekdays must be numbered Monday=0..Sunday=6")
	}
}
