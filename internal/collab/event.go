// Package collab runs the live editing session of one site map: presence,
// cursors and selections, field-level edits with last-writer-wins
// reconciliation, and the fan-out of store change events to every client.
package collab

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/kyleqd/sitemap/internal/geometry"
)

var (
	ErrForbidden   = errors.New("forbidden")
	ErrUnknownUser = errors.New("user has not joined")
	ErrBadEvent    = errors.New("malformed collaboration event")
)

type EventType string

const (
	EventJoin      EventType = "join"
	EventLeave     EventType = "leave"
	EventHeartbeat EventType = "heartbeat"
	EventCursor    EventType = "cursor"
	EventSelection EventType = "selection"
	EventEdit      EventType = "edit"
	EventChange    EventType = "change"
	EventConflict  EventType = "conflict"
)

// ordered reports whether the event carries committed state and must not
// be dropped or reordered.
func (t EventType) ordered() bool {
	return t == EventChange || t == EventConflict
}

// Event is the wire record exchanged with clients. Seq is set on change
// events only and mirrors the store sequence.
type Event struct {
	Type      EventType       `json:"type"`
	UserID    string          `json:"userId"`
	SiteMapID string          `json:"siteMapId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       uint64          `json:"seq,omitempty"`
}

func (e Event) decode(v any) error {
	if len(e.Data) == 0 {
		return ErrBadEvent
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return errors.Join(ErrBadEvent, err)
	}
	return nil
}

type JoinData struct {
	Name string `json:"name,omitempty"`
}

type CursorData struct {
	Point geometry.Point `json:"point"`
}

type SelectionData struct {
	EntityIDs []string `json:"entityIds"`
}

// Edit is a field-level change proposed by a client. BaseSeq is the last
// store sequence the client had applied when it made the edit; zero means
// unknown.
type Edit struct {
	EntityID string         `json:"entityId"`
	Fields   map[string]any `json:"fields"`
	BaseSeq  uint64         `json:"baseSeq,omitempty"`
}

// ConflictNotice tells a user that a field they wrote was overwritten by
// someone who had not seen their write.
type ConflictNotice struct {
	EntityID      string `json:"entityId"`
	Field         string `json:"field"`
	OverwrittenBy string `json:"overwrittenBy"`
	LoserID       string `json:"loserId"`
	LostSeq       uint64 `json:"lostSeq"`
	WinningSeq    uint64 `json:"winningSeq"`
}

// Presence is the live state of one connected user.
type Presence struct {
	UserID    string          `json:"userId"`
	Name      string          `json:"name,omitempty"`
	Cursor    *geometry.Point `json:"cursor,omitempty"`
	Selection []string        `json:"selection"`
	JoinedAt  time.Time       `json:"joinedAt"`
	LastSeen  time.Time       `json:"lastSeen"`
}
