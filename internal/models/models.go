package models

import "time"

// MediaKind describes what a MediaRef points at
type MediaKind string

const (
	VideoMedia     MediaKind = "video"
	VideoNoteMedia MediaKind = "video_note"
	DocumentMedia  MediaKind = "document"
	PhotoMedia     MediaKind = "photo"
)

// MediaRef is a reference to a file held by the chat platform.
type MediaRef struct {
	FileID   string    `json:"file_id"`
	Kind     MediaKind `json:"kind"`
	MimeType string    `json:"mime_type,omitempty"`
}

// IsVideo reports whether the reference can be decoded as a video clip.
func (m *MediaRef) IsVideo() bool {
	if m == nil {
		return false
	}
	switch m.Kind {
	case VideoMedia, VideoNoteMedia:
		return true
	case DocumentMedia:
		return len(m.MimeType) > 6 && m.MimeType[:6] == "video/"
	}
	return false
}

// Event is one inbound message routed to a tenant. It is never mutated after
// being submitted to the dispatcher.
type Event struct {
	ID         string    `json:"id"`
	Tenant     string    `json:"tenant"`
	ChatID     int64     `json:"chat_id"`
	HasChat    bool      `json:"has_chat"`
	Text       string    `json:"text,omitempty"`
	Media      *MediaRef `json:"media,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// IsText reports whether the event carries text and no media.
func (e *Event) IsText() bool {
	return e.Media == nil && e.Text != ""
}

// Item is a tracked product with its expiry date in canonical YYYY-MM-DD form.
type Item struct {
	Name string `json:"name"`
	Date string `json:"date"`
}

// Occupancy is a head count recorded at a point in time.
type Occupancy struct {
	Time  time.Time `json:"time"`
	Count int       `json:"count"`
}

// Keyboard is a platform-neutral reply keyboard.
type Keyboard struct {
	Rows        [][]string `json:"rows,omitempty"`
	Remove      bool       `json:"remove,omitempty"`
	Placeholder string     `json:"placeholder,omitempty"`
}

// Reply is an outbound message produced by a bot behavior.
type Reply struct {
	ChatID   int64     `json:"chat_id"`
	Text     string    `json:"text"`
	Keyboard *Keyboard `json:"keyboard,omitempty"`
}
