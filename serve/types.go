package serve

import (
	"time"

	"github.com/everydev1618/pmc/store"
)

// --- API Request Types ---

// SpotsRequest sets a lot's availability.
type SpotsRequest struct {
	FreeSpots string `json:"free_spots"`
	HasSpots  *bool  `json:"has_spots,omitempty"`
	SpotRange string `json:"spot_range,omitempty"`
	Status    string `json:"status,omitempty"`

	// Notify tells subscribers when the lot has room. Defaults to true.
	Notify *bool `json:"notify,omitempty"`
}

// ManagerRequest binds a user to a lot as its manager.
type ManagerRequest struct {
	UserID string `json:"user_id"`
	LotID  string `json:"lot_id"`
	Name   string `json:"name,omitempty"`
}

// --- API Response Types ---

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// SpotsResponse reports a spot update.
type SpotsResponse struct {
	Lot      *store.Lot `json:"lot"`
	Notified int        `json:"notified"`
}

// UserResponse is a user with their premium standing.
type UserResponse struct {
	*store.User
	PremiumActive bool `json:"premium_active"`
	DaysRemaining int  `json:"days_remaining"`
}

// ConversationResponse is a user's full conversation history.
type ConversationResponse struct {
	UserID   string                      `json:"user_id"`
	Active   int                         `json:"active"`
	Messages []store.ConversationMessage `json:"messages"`
}

// ClearedResponse reports deactivated messages.
type ClearedResponse struct {
	Cleared int `json:"cleared"`
}

// SyncResponse reports an index rebuild.
type SyncResponse struct {
	Indexed  int   `json:"indexed"`
	Duration int64 `json:"duration_ms"`
}

// --- SSE Event Types ---

// BrokerEvent is published to SSE subscribers.
type BrokerEvent struct {
	ID        uint64     `json:"id"`
	Type      string     `json:"type"`
	Lot       *store.Lot `json:"lot,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}
