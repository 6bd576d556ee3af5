// Package parking implements the parking-lot domain: availability updates,
// subscriptions, crowd reports, subscriber notifications and the referral
// driven premium program.
package parking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/everydev1618/pmc/store"
)

// Errors returned by Service.
var (
	ErrPremiumRequired = errors.New("premium required")
	ErrInvalidReferral = errors.New("invalid referral code")
	ErrNoLotAssigned   = errors.New("no parking lot assigned")
	ErrNotManager      = errors.New("user is not a parking lot manager")
	ErrInvalidLot      = errors.New("invalid parking lot")
)

// Notifier delivers a text message to a user.
type Notifier interface {
	Send(ctx context.Context, userID, text string) error
}

// Indexer keeps the semantic search index in step with lots.
type Indexer interface {
	Upsert(ctx context.Context, lot *store.Lot) error
	Remove(ctx context.Context, lotID string) error
	Search(ctx context.Context, query string, limit int) ([]store.Lot, error)
}

// LotPublisher receives every lot change.
type LotPublisher interface {
	PublishLot(lot store.Lot)
}

// Config holds the tunable rules.
type Config struct {
	// ReportThreshold is how many distinct drivers must report a lot before
	// it is marked available.
	ReportThreshold int

	// ReferralDays is the premium time granted per referral.
	ReferralDays int
}

// DefaultConfig returns the production rules.
func DefaultConfig() Config {
	return Config{ReportThreshold: 5, ReferralDays: 7}
}

// Service is the parking domain API used by the bot tools and the admin API.
type Service struct {
	store     store.Store
	notifier  Notifier
	index     Indexer
	publisher LotPublisher
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger

	lotLocks  keyedMutex
	userLocks keyedMutex
}

// Option configures a Service.
type Option func(*Service)

// WithIndex enables semantic search and keeps the index updated.
func WithIndex(idx Indexer) Option {
	return func(s *Service) { s.index = idx }
}

// WithPublisher streams lot changes.
func WithPublisher(p LotPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithConfig overrides the default rules.
func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service.
func NewService(st store.Store, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		store:    st,
		notifier: notifier,
		cfg:      DefaultConfig(),
		now:      Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.ReportThreshold <= 0 {
		s.cfg.ReportThreshold = DefaultConfig().ReportThreshold
	}
	if s.cfg.ReferralDays <= 0 {
		s.cfg.ReferralDays = DefaultConfig().ReferralDays
	}
	return s
}

// Config returns the active rules.
func (s *Service) Config() Config {
	return s.cfg
}

// Now returns the service clock reading.
func (s *Service) Now() time.Time {
	return s.now()
}

// Store exposes the underlying store.
func (s *Service) Store() store.Store {
	return s.store
}

// --- lots ---

// AvailableLots returns lots with free spots, most recently updated first.
func (s *Service) AvailableLots(ctx context.Context) ([]store.Lot, error) {
	return s.store.ListAvailableLots(ctx)
}

// Lots returns every lot.
func (s *Service) Lots(ctx context.Context) ([]store.Lot, error) {
	return s.store.ListLots(ctx)
}

// Lot returns a lot by id.
func (s *Service) Lot(ctx context.Context, id string) (*store.Lot, error) {
	return s.store.GetLot(ctx, strings.TrimSpace(id))
}

// LotByName returns the lot with exactly this name.
func (s *Service) LotByName(ctx context.Context, name string) (*store.Lot, error) {
	return s.store.FindLotByName(ctx, strings.TrimSpace(name))
}

// SearchLots finds lots matching a free-text description.
func (s *Service) SearchLots(ctx context.Context, query string, limit int) ([]store.Lot, error) {
	if limit <= 0 {
		limit = 5
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if s.index != nil {
		return s.index.Search(ctx, query, limit)
	}

	lots, err := s.store.ListLots(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []store.Lot
	for _, l := range lots {
		if strings.Contains(strings.ToLower(l.Name+" "+l.Location), q) {
			out = append(out, l)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// NewLot describes a lot to create.
type NewLot struct {
	ID        string `json:"id,omitempty" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Location  string `json:"location" yaml:"location"`
	Capacity  int    `json:"capacity" yaml:"capacity"`
	FreeSpots string `json:"free_spots,omitempty" yaml:"free_spots"`
	HasSpots  *bool  `json:"has_spots,omitempty" yaml:"has_spots"`
}

// CreateLot stores a new lot and indexes it. A taken name yields store.ErrDuplicate.
func (s *Service) CreateLot(ctx context.Context, in NewLot) (*store.Lot, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidLot)
	}
	lot := &store.Lot{
		ID:        in.ID,
		Name:      name,
		Location:  strings.TrimSpace(in.Location),
		Capacity:  in.Capacity,
		HasSpots:  true,
		FreeSpots: strings.TrimSpace(in.FreeSpots),
		UpdatedAt: s.now(),
	}
	if lot.ID == "" {
		lot.ID = uuid.NewString()
	}
	if lot.FreeSpots == "" {
		lot.FreeSpots = "0"
	}
	if in.HasSpots != nil {
		lot.HasSpots = *in.HasSpots
	}

	if err := s.store.CreateLot(ctx, lot); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("parqueadero con este nombre ya existe: %w", err)
		}
		return nil, err
	}
	s.logger.Info("lot created", "lot_id", lot.ID, "name", lot.Name)
	s.lotChanged(ctx, lot)
	return lot, nil
}

// SpotUpdate is a new availability reading for a lot.
type SpotUpdate struct {
	FreeSpots string `json:"free_spots"`
	HasSpots  bool   `json:"has_spots"`
	SpotRange string `json:"spot_range,omitempty"`
	Status    string `json:"status,omitempty"`
}

// UpdateSpots records availability. With notify set and room in the lot,
// subscribers are told; the count of messages sent is returned.
func (s *Service) UpdateSpots(ctx context.Context, lotID string, u SpotUpdate, notify bool) (*store.Lot, int, error) {
	lot, err := s.store.GetLot(ctx, lotID)
	if err != nil {
		return nil, 0, err
	}
	lot.FreeSpots = u.FreeSpots
	lot.HasSpots = u.HasSpots
	lot.SpotRange = u.SpotRange
	lot.OccupancyStatus = u.Status
	lot.UpdatedAt = s.now()
	if err := s.store.UpdateLot(ctx, lot); err != nil {
		return nil, 0, err
	}
	s.logger.Info("lot spots updated", "lot_id", lot.ID, "free_spots", lot.FreeSpots, "has_spots", lot.HasSpots)
	s.lotChanged(ctx, lot)

	if !notify || !lot.HasSpots || !HasSpots(lot.FreeSpots) {
		return lot, 0, nil
	}
	sent, err := s.NotifyLot(ctx, lot)
	if err != nil {
		return lot, sent, err
	}
	return lot, sent, nil
}

func (s *Service) lotChanged(ctx context.Context, lot *store.Lot) {
	if s.index != nil {
		if err := s.index.Upsert(ctx, lot); err != nil {
			s.logger.Warn("semantic index update failed", "lot_id", lot.ID, "error", err)
		}
	}
	if s.publisher != nil {
		s.publisher.PublishLot(*lot)
	}
}

// --- managers ---

// ManagedLot returns the lot a manager is bound to.
func (s *Service) ManagedLot(ctx context.Context, managerID string) (*store.Lot, error) {
	u, err := s.store.GetUser(ctx, managerID)
	if err != nil {
		return nil, err
	}
	if u.Role != store.RoleManager {
		return nil, ErrNotManager
	}
	if u.LotID == "" {
		return nil, ErrNoLotAssigned
	}
	return s.store.GetLot(ctx, u.LotID)
}

// SetSpots applies a manager's reading such as "5", "10-15" or "20+" and
// notifies subscribers when there is room. description overrides the
// inferred status.
func (s *Service) SetSpots(ctx context.Context, managerID, value, description string) (*store.Lot, int, error) {
	lot, err := s.ManagedLot(ctx, managerID)
	if err != nil {
		return nil, 0, err
	}
	value = strings.TrimSpace(value)
	n, ok := ParseSpots(value)

	free := value
	if ok {
		free = fmt.Sprint(n)
	}
	status := strings.TrimSpace(description)
	if status == "" {
		status = InferStatus(value)
	}
	return s.UpdateSpots(ctx, lot.ID, SpotUpdate{
		FreeSpots: free,
		HasSpots:  !ok || n > 0,
		SpotRange: value,
		Status:    status,
	}, true)
}

// ToggleSpots flips a manager's lot between full and available without
// notifying anyone.
func (s *Service) ToggleSpots(ctx context.Context, managerID string, has bool) (*store.Lot, error) {
	lot, err := s.ManagedLot(ctx, managerID)
	if err != nil {
		return nil, err
	}
	u := SpotUpdate{FreeSpots: "0", HasSpots: false, SpotRange: "0", Status: StatusFull}
	if has {
		u = SpotUpdate{FreeSpots: "1+", HasSpots: true, SpotRange: "1+", Status: StatusSome}
	}
	lot, _, err = s.UpdateSpots(ctx, lot.ID, u, false)
	return lot, err
}

// AssignManager creates or promotes a user to manage a lot.
func (s *Service) AssignManager(ctx context.Context, userID, lotID, name string) (*store.User, error) {
	if _, err := s.store.GetLot(ctx, lotID); err != nil {
		return nil, fmt.Errorf("lot %s: %w", lotID, err)
	}
	unlock := s.userLocks.Lock(userID)
	defer unlock()

	name = strings.TrimSpace(name)
	u, err := s.store.GetUser(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		now := s.now()
		u = &store.User{
			ID:           userID,
			Name:         name,
			Role:         store.RoleManager,
			LotID:        lotID,
			Registration: store.RegistrationAwaitingName,
			Chat:         store.ChatState{LastInteraction: now, Step: store.StepInitial},
			CreatedAt:    now,
		}
		if name != "" {
			u.Registration = store.RegistrationComplete
		}
		if err := s.store.CreateUser(ctx, u); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		u.Role = store.RoleManager
		u.LotID = lotID
		if name != "" {
			u.Name = name
		}
		if err := s.store.UpdateUser(ctx, u); err != nil {
			return nil, err
		}
	}
	s.logger.Info("manager assigned", "user_id", userID, "lot_id", lotID)
	return u, nil
}

// --- subscriptions ---

// SubscribeResult describes a subscription request.
type SubscribeResult struct {
	Lot     *store.Lot
	Already bool
	Access  Access
}

// requirePremium sends the paywall and fails when the driver lacks premium.
func (s *Service) requirePremium(ctx context.Context, driverID string) (*store.User, Access, error) {
	u, err := s.store.GetUser(ctx, driverID)
	if err != nil {
		return nil, Access{}, err
	}
	access, err := s.PremiumAccess(ctx, u)
	if err != nil {
		return nil, Access{}, err
	}
	if !access.Active {
		s.send(ctx, driverID, PaywallMessage(u, s.cfg.ReferralDays))
		return u, access, ErrPremiumRequired
	}
	return u, access, nil
}

// Subscribe subscribes a premium driver to a lot.
func (s *Service) Subscribe(ctx context.Context, driverID, lotID string) (*SubscribeResult, error) {
	_, access, err := s.requirePremium(ctx, driverID)
	if err != nil {
		return nil, err
	}
	lot, err := s.store.GetLot(ctx, strings.TrimSpace(lotID))
	if err != nil {
		return nil, err
	}

	unlock := s.userLocks.Lock(driverID)
	defer unlock()

	res := &SubscribeResult{Lot: lot, Access: access}
	if _, err := s.store.FindActiveSubscription(ctx, driverID, lot.ID); err == nil {
		res.Already = true
		return res, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if err := s.store.CreateSubscription(ctx, &store.Subscription{
		ID:        uuid.NewString(),
		DriverID:  driverID,
		LotID:     lot.ID,
		CreatedAt: s.now(),
		Active:    true,
	}); err != nil {
		return nil, err
	}
	s.logger.Info("subscribed", "driver_id", driverID, "lot_id", lot.ID)
	return res, nil
}

// SubscribeAll replaces a premium driver's lot subscriptions with one
// covering every lot.
func (s *Service) SubscribeAll(ctx context.Context, driverID string) (*SubscribeResult, error) {
	_, access, err := s.requirePremium(ctx, driverID)
	if err != nil {
		return nil, err
	}

	unlock := s.userLocks.Lock(driverID)
	defer unlock()

	res := &SubscribeResult{Access: access}
	if _, err := s.store.FindActiveSubscription(ctx, driverID, ""); err == nil {
		res.Already = true
		return res, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if _, err := s.store.DeactivateAllSubscriptions(ctx, driverID); err != nil {
		return nil, err
	}
	if err := s.store.CreateSubscription(ctx, &store.Subscription{
		ID:        uuid.NewString(),
		DriverID:  driverID,
		CreatedAt: s.now(),
		Active:    true,
	}); err != nil {
		return nil, err
	}
	s.logger.Info("subscribed to all lots", "driver_id", driverID)
	return res, nil
}

// Unsubscribe cancels a driver's subscription to one lot. The bool is false
// when there was nothing to cancel.
func (s *Service) Unsubscribe(ctx context.Context, driverID, lotID string) (*store.Lot, bool, error) {
	lot, err := s.store.GetLot(ctx, strings.TrimSpace(lotID))
	if err != nil {
		return nil, false, err
	}
	ok, err := s.store.DeactivateSubscription(ctx, driverID, lot.ID)
	if err != nil {
		return lot, false, err
	}
	return lot, ok, nil
}

// UnsubscribeAll cancels every subscription of a driver.
func (s *Service) UnsubscribeAll(ctx context.Context, driverID string) (int, error) {
	return s.store.DeactivateAllSubscriptions(ctx, driverID)
}

// SubscriptionView pairs a subscription with its lot. Lot is nil for the
// all-lots subscription.
type SubscriptionView struct {
	store.Subscription
	Lot *store.Lot
}

// Subscriptions lists a driver's active subscriptions.
func (s *Service) Subscriptions(ctx context.Context, driverID string) ([]SubscriptionView, error) {
	subs, err := s.store.ListActiveSubscriptions(ctx, driverID)
	if err != nil {
		return nil, err
	}
	views := make([]SubscriptionView, 0, len(subs))
	for _, sub := range subs {
		v := SubscriptionView{Subscription: sub}
		if !sub.Global() {
			lot, err := s.store.GetLot(ctx, sub.LotID)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			v.Lot = lot
		}
		views = append(views, v)
	}
	return views, nil
}

// --- notifications ---

// NotifyLot tells every premium subscriber of the lot, including all-lots
// subscribers, that it has room. Each driver is messaged once.
func (s *Service) NotifyLot(ctx context.Context, lot *store.Lot) (int, error) {
	subs, err := s.store.ListLotSubscribers(ctx, lot.ID)
	if err != nil {
		return 0, err
	}

	text := AvailabilityMessage(lot, s.now())
	seen := make(map[string]bool, len(subs))
	sent := 0
	for _, sub := range subs {
		if seen[sub.DriverID] {
			continue
		}
		seen[sub.DriverID] = true

		u, err := s.store.GetUser(ctx, sub.DriverID)
		if err != nil {
			s.logger.Warn("subscriber lookup failed", "driver_id", sub.DriverID, "error", err)
			continue
		}
		access, err := s.PremiumAccess(ctx, u)
		if err != nil || !access.Active {
			continue
		}
		if err := s.notifier.Send(ctx, u.ID, text); err != nil {
			s.logger.Warn("notification failed", "driver_id", u.ID, "lot_id", lot.ID, "error", err)
			continue
		}
		sent++
	}
	s.logger.Info("lot subscribers notified", "lot_id", lot.ID, "sent", sent, "subscriptions", len(subs))
	return sent, nil
}

func (s *Service) send(ctx context.Context, userID, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, userID, text); err != nil {
		s.logger.Warn("send failed", "user_id", userID, "error", err)
	}
}

// errUnchanged from a ModifyUser func skips the write.
var errUnchanged = errors.New("user unchanged")

// ModifyUser applies fn to the stored user under the user's lock and saves
// the result. Writers of another user's record go through here so that
// concurrent changes are not lost.
func (s *Service) ModifyUser(ctx context.Context, userID string, fn func(*store.User) error) (*store.User, error) {
	unlock := s.userLocks.Lock(userID)
	defer unlock()

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := fn(u); err != nil {
		if errors.Is(err, errUnchanged) {
			return u, nil
		}
		return nil, err
	}
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// keyedMutex serializes work per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the lock for key and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l := k.locks[key]
	if l == nil {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
