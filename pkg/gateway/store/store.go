// Package store persists the interactions and events the agent reports
// through the bridge server. Persistence is best effort from the agent's
// point of view; the bridge surfaces store failures as 500s.
package store

import (
	"context"
	"errors"
	"time"
)

// MaxRecent bounds how many interactions a context lookup returns.
const MaxRecent = 20

var ErrInvalid = errors.New("store: invalid record")

type Interaction struct {
	ID        string         `json:"interaction_id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"interaction_type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"timestamp"`
}

type Event struct {
	ID        string         `json:"event_id"`
	Type      string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"timestamp"`
}

type Store interface {
	AppendInteraction(ctx context.Context, in Interaction) error
	// RecentInteractions returns at most limit interactions for userID,
	// newest first.
	RecentInteractions(ctx context.Context, userID string, limit int) ([]Interaction, error)
	CountInteractions(ctx context.Context, userID string) (int64, error)
	AppendEvent(ctx context.Context, ev Event) error
	Close() error
}

func (in Interaction) Validate() error {
	if in.ID == "" || in.UserID == "" || in.Type == "" {
		return ErrInvalid
	}
	return nil
}

func (ev Event) Validate() error {
	if ev.ID == "" || ev.Type == "" {
		return ErrInvalid
	}
	return nil
}

// Context is the document served by GET /agent/context/{user_id}.
type Context struct {
	RecentInteractions []Interaction `json:"recent_interactions"`
	InteractionCount   int64         `json:"interaction_count"`
	LastInteractionAt  *time.Time    `json:"last_interaction_at"`
}

func LoadContext(ctx context.Context, s Store, userID string) (Context, error) {
	recent, err := s.RecentInteractions(ctx, userID, MaxRecent)
	if err != nil {
		return Context{}, err
	}
	count, err := s.CountInteractions(ctx, userID)
	if err != nil {
		return Context{}, err
	}
	out := Context{RecentInteractions: recent, InteractionCount: count}
	if out.RecentInteractions == nil {
		out.RecentInteractions = []Interaction{}
	}
	if len(recent) > 0 {
		last := recent[0].CreatedAt
		out.LastInteractionAt = &last
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxRecent {
		return MaxRecent
	}
	return limit
}
