package dispatcher

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/KnotATypo/Telegram-Bots/internal/models"
	"go.uber.org/zap/zaptest"
)

type recordingHandler struct {
	mu        sync.Mutex
	handled   map[int64][]string
	notified  []int64
	inFlight  map[int64]int
	overlap   atomic.Bool
	fail      map[string]error
	panics    map[string]bool
	notifyErr error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		handled:  make(map[int64][]string),
		inFlight: make(map[int64]int),
		fail:     make(map[string]error),
		panics:   make(map[string]bool),
	}
}

func (h *recordingHandler) HandleEvent(ctx context.Context, event *models.Event) error {
	h.mu.Lock()
	h.inFlight[event.ChatID]++
	if h.inFlight[event.ChatID] > 1 {
		h.overlap.Store(true)
	}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.inFlight[event.ChatID]--
		h.handled[event.ChatID] = append(h.handled[event.ChatID], event.Text)
		h.mu.Unlock()
	}()

	if h.panics[event.Text] {
		panic("boom on " + event.Text)
	}
	return h.fail[event.Text]
}

func (h *recordingHandler) NotifyFailure(ctx context.Context, chatID int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notified = append(h.notified, chatID)
	return h.notifyErr
}

func event(tenant string, chatID int64, text string) *models.Event {
	return &models.Event{
		ID:      tenant + "-" + text,
		Tenant:  tenant,
		ChatID:  chatID,
		HasChat: true,
		Text:    text,
	}
}

func TestDispatcher_SameChatOrder(t *testing.T) {
	d := New(4, zaptest.NewLogger(t))
	h := newRecordingHandler()
	d.Start(context.Background())

	const n = 500
	for i := 0; i < n; i++ {
		d.Submit(h, event("tools", int64(i%3), strconv.Itoa(i)))
	}
	d.Stop()

	for chat := int64(0); chat < 3; chat++ {
		got := h.handled[chat]
		last := -1
		for _, text := range got {
			v, _ := strconv.Atoi(text)
			if v <= last {
				t.Fatalf("chat %d processed out of order: %v", chat, got)
			}
			last = v
		}
	}
	total := len(h.handled[0]) + len(h.handled[1]) + len(h.handled[2])
	if total != n {
		t.Errorf("expected %d events, got %d", n, total)
	}
	if h.overlap.Load() {
		t.Error("events of one chat were handled concurrently")
	}
}

func TestDispatcher_ConcurrentSubmitters(t *testing.T) {
	d := New(8, zaptest.NewLogger(t))
	h := newRecordingHandler()
	d.Start(context.Background())

	const sources, perSource = 6, 200
	var wg sync.WaitGroup
	for s := 0; s < sources; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSource; i++ {
				d.Submit(h, event("expiry", 99, strconv.Itoa(s)+":"+strconv.Itoa(i)))
			}
		}(s)
	}
	wg.Wait()
	d.Stop()

	got := h.handled[99]
	if len(got) != sources*perSource {
		t.Fatalf("expected %d events, got %d", sources*perSource, len(got))
	}

	// every source's events must appear in the order it submitted them
	last := make(map[string]int)
	for _, text := range got {
		var src string
		var seq int
		for i := 0; i < len(text); i++ {
			if text[i] == ':' {
				src = text[:i]
				seq, _ = strconv.Atoi(text[i+1:])
				break
			}
		}
		if prev, ok := last[src]; ok && seq <= prev {
			t.Fatalf("source %s out of order: %d after %d", src, seq, prev)
		}
		last[src] = seq
	}
	if h.overlap.Load() {
		t.Error("events of one chat were handled concurrently")
	}
}

func TestDispatcher_FailureIsolation(t *testing.T) {
	d := New(2, zaptest.NewLogger(t))
	h := newRecordingHandler()
	h.fail["2"] = errors.New("db down")
	h.panics["4"] = true
	h.notifyErr = errors.New("telegram down")
	d.Start(context.Background())

	for i := 1; i <= 6; i++ {
		d.Submit(h, event("tools", 5, strconv.Itoa(i)))
	}
	d.Submit(h, event("tools", 6, "after"))
	d.Stop()

	want := []string{"1", "2", "3", "4", "5", "6"}
	got := h.handled[5]
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if len(h.handled[6]) != 1 {
		t.Errorf("event for another chat not processed: %v", h.handled[6])
	}
	if len(h.notified) != 2 || h.notified[0] != 5 || h.notified[1] != 5 {
		t.Errorf("expected two failure notices to chat 5, got %v", h.notified)
	}
}

func TestDispatcher_NoNoticeWithoutChat(t *testing.T) {
	d := New(1, zaptest.NewLogger(t))
	h := newRecordingHandler()
	h.fail["x"] = errors.New("bad")
	d.Start(context.Background())

	d.Submit(h, &models.Event{ID: "e1", Tenant: "tools", Text: "x"})
	d.Stop()

	if len(h.notified) != 0 {
		t.Errorf("expected no notice, got %v", h.notified)
	}
}

func TestDispatcher_SubmitAfterStop(t *testing.T) {
	d := New(1, zaptest.NewLogger(t))
	h := newRecordingHandler()
	d.Start(context.Background())
	d.Stop()

	d.Submit(h, event("tools", 1, "late"))

	if len(h.handled[1]) != 0 {
		t.Errorf("event handled after stop: %v", h.handled[1])
	}
	d.Stop()
}

func TestDispatcher_SubmitBeforeStart(t *testing.T) {
	d := New(2, zaptest.NewLogger(t))
	h := newRecordingHandler()

	for i := 0; i < 10; i++ {
		d.Submit(h, event("tools", 1, strconv.Itoa(i)))
	}
	d.Start(context.Background())
	d.Stop()

	if len(h.handled[1]) != 10 {
		t.Errorf("expected queued events to be processed, got %d", len(h.handled[1]))
	}
}

func TestHandlerError(t *testing.T) {
	cause := errors.New("cause")
	err := &HandlerError{Tenant: "tools", EventID: "e", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("HandlerError must unwrap to its cause")
	}
	if err.Error() == "" {
		t.Error("empty error message")
	}
}
