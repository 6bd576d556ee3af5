// Package store persists users, parking lots, subscriptions, crowd reports,
// conversation history and the semantic index.
package store

import (
	"context"
	"errors"
	"time"
)

// Standard errors
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// Store is the persistence contract shared by the SQLite and MongoDB backends.
type Store interface {
	// Init creates tables or indexes if they don't exist.
	Init(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error

	UserStore
	LotStore
	SubscriptionStore
	ReportStore
	ConversationStore

	// RecordInbound stores a received message; ErrDuplicate on redelivery.
	RecordInbound(ctx context.Context, m InboundMessage) error

	EmbeddingStore
}

// UserStore persists users.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*User, error)

	// CreateUser returns ErrDuplicate if the id exists.
	CreateUser(ctx context.Context, u *User) error

	// UpdateUser replaces the stored user; ErrNotFound if absent.
	UpdateUser(ctx context.Context, u *User) error

	FindUserByReferralCode(ctx context.Context, code string) (*User, error)

	// ListExpiredPremium returns premium users whose expiry is before now.
	ListExpiredPremium(ctx context.Context, now time.Time) ([]User, error)
}

// LotStore persists parking lots.
type LotStore interface {
	GetLot(ctx context.Context, id string) (*Lot, error)

	// FindLotByName matches the name exactly.
	FindLotByName(ctx context.Context, name string) (*Lot, error)

	// CreateLot returns ErrDuplicate when the name is taken.
	CreateLot(ctx context.Context, l *Lot) error

	UpdateLot(ctx context.Context, l *Lot) error

	// ListLots returns every lot ordered by name.
	ListLots(ctx context.Context) ([]Lot, error)

	// ListAvailableLots returns lots with spots, most recently updated first.
	ListAvailableLots(ctx context.Context) ([]Lot, error)
}

// SubscriptionStore persists notification subscriptions. An empty lotID
// addresses the all-lots subscription.
type SubscriptionStore interface {
	FindActiveSubscription(ctx context.Context, driverID, lotID string) (*Subscription, error)
	CreateSubscription(ctx context.Context, s *Subscription) error
	DeactivateSubscription(ctx context.Context, driverID, lotID string) (bool, error)
	DeactivateAllSubscriptions(ctx context.Context, driverID string) (int, error)
	ListActiveSubscriptions(ctx context.Context, driverID string) ([]Subscription, error)

	// ListLotSubscribers returns active subscriptions for lotID plus all-lots ones.
	ListLotSubscribers(ctx context.Context, lotID string) ([]Subscription, error)
}

// ReportStore persists crowd reports. Pending means not yet processed.
type ReportStore interface {
	CreateReport(ctx context.Context, r *Report) error
	HasPendingReport(ctx context.Context, lotID, driverID string) (bool, error)
	CountPendingReports(ctx context.Context, lotID string) (int, error)
	ListPendingReportsByDriver(ctx context.Context, driverID string) ([]Report, error)
	MarkReportsProcessed(ctx context.Context, lotID string) (int, error)
	DeleteReports(ctx context.Context, lotID string) (int, error)
}

// ConversationStore persists agent conversation history.
type ConversationStore interface {
	AppendMessage(ctx context.Context, m *ConversationMessage) error

	// RecentMessages returns the last n active messages, oldest first.
	RecentMessages(ctx context.Context, userID string, n int) ([]ConversationMessage, error)

	// ClearConversation marks every active message inactive.
	ClearConversation(ctx context.Context, userID string) (int, error)

	CountMessages(ctx context.Context, userID string, activeOnly bool) (int, error)

	// DeactivateOlderMessages keeps the newest keep active messages.
	DeactivateOlderMessages(ctx context.Context, userID string, keep int) (int, error)

	// ConversationHistory returns every message, oldest first.
	ConversationHistory(ctx context.Context, userID string) ([]ConversationMessage, error)

	// ReactivateMessages re-activates the newest n inactive messages.
	ReactivateMessages(ctx context.Context, userID string, n int) (int, error)

	// ListConversationUsers returns users with more than minActive active messages.
	ListConversationUsers(ctx context.Context, minActive int) ([]string, error)
}

// EmbeddingStore persists semantic index vectors.
type EmbeddingStore interface {
	UpsertEmbedding(ctx context.Context, e *LotEmbedding) error
	DeleteEmbedding(ctx context.Context, lotID string) error
	ListEmbeddings(ctx context.Context) ([]LotEmbedding, error)
}
