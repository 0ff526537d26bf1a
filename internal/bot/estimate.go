package bot

import (
	"math"
	"sync"
	"time"
)

// PendingEstimate is a task the user is timing against their own guess.
type PendingEstimate struct {
	ChatID         int64
	StartedAt      time.Time
	ClaimedMinutes int
}

// Result compares the estimate with the time elapsed until now. Actual
// minutes are rounded to two decimals and the difference, as a percentage of
// the estimate, to one.
func (p PendingEstimate) Result(now time.Time) (actual, differencePercent float64) {
	actual = math.Round(now.Sub(p.StartedAt).Minutes()*100) / 100
	claimed := float64(p.ClaimedMinutes)
	differencePercent = math.Round(100/claimed*math.Abs(claimed-actual)*10) / 10
	return actual, differencePercent
}

// Estimates holds at most one PendingEstimate per chat. It is kept apart
// from the conversation state so that resetting the state keeps the timer
// running.
type Estimates struct {
	mu      sync.Mutex
	pending map[int64]PendingEstimate
}

func NewEstimates() *Estimates {
	return &Estimates{pending: make(map[int64]PendingEstimate)}
}

func (e *Estimates) Start(chatID int64, startedAt time.Time, minutes int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending[chatID] = PendingEstimate{ChatID: chatID, StartedAt: startedAt, ClaimedMinutes: minutes}
}

func (e *Estimates) Get(chatID int64) (PendingEstimate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pending[chatID]
	return p, ok
}

// Finish removes and returns the chat's pending estimate.
func (e *Estimates) Finish(chatID int64) (PendingEstimate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pending[chatID]
	delete(e.pending, chatID)
	return p, ok
}
