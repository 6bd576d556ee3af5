package parking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/everydev1618/pmc/store"
)

// Access is a user's premium standing.
type Access struct {
	Active        bool
	Premium       bool
	ExpiresAt     *time.Time
	DaysRemaining int
}

// PremiumAccess reports whether u has live premium, switching off premium
// that has expired.
func (s *Service) PremiumAccess(ctx context.Context, u *store.User) (Access, error) {
	now := s.now()
	access := Access{Premium: u.Premium, ExpiresAt: u.PremiumExpiresAt}
	if !u.Premium {
		return access, nil
	}
	if PremiumActive(u.PremiumExpiresAt, now) {
		access.Active = true
		access.DaysRemaining = DaysRemaining(u.PremiumExpiresAt, now)
		return access, nil
	}

	// The record may have been extended since u was read.
	expired := false
	fresh, err := s.ModifyUser(ctx, u.ID, func(cur *store.User) error {
		if !cur.Premium || PremiumActive(cur.PremiumExpiresAt, now) {
			return errUnchanged
		}
		cur.Premium = false
		cur.PremiumExpiresAt = nil
		expired = true
		return nil
	})
	if err != nil {
		return access, fmt.Errorf("deactivate premium for %s: %w", u.ID, err)
	}
	*u = *fresh
	if !expired {
		return s.PremiumAccess(ctx, u)
	}
	s.logger.Info("premium expired", "user_id", u.ID)
	return Access{}, nil
}

// EnsureReferralCode gives u a unique referral code if it has none.
func (s *Service) EnsureReferralCode(ctx context.Context, u *store.User) (string, error) {
	if u.ReferralCode != "" {
		return u.ReferralCode, nil
	}

	code := ""
	for range 10 {
		candidate, err := NewReferralCode()
		if err != nil {
			return "", err
		}
		_, err = s.store.FindUserByReferralCode(ctx, candidate)
		if errors.Is(err, store.ErrNotFound) {
			code = candidate
			break
		}
		if err != nil {
			return "", err
		}
	}
	if code == "" {
		code = fallbackReferralCode(s.now())
	}

	u.ReferralCode = code
	if err := s.store.UpdateUser(ctx, u); err != nil {
		u.ReferralCode = ""
		return "", err
	}
	return code, nil
}

// ApplyReferral credits the owner of code with premium days for referring u.
// The referrer is returned.
func (s *Service) ApplyReferral(ctx context.Context, u *store.User, code string) (*store.User, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrInvalidReferral
	}
	referrer, err := s.store.FindUserByReferralCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidReferral
	}
	if err != nil {
		return nil, err
	}
	if referrer.ID == u.ID {
		return nil, ErrInvalidReferral
	}

	u.ReferredBy = code
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, err
	}

	now := s.now()
	var expires time.Time
	referrer, err = s.ModifyUser(ctx, referrer.ID, func(r *store.User) error {
		current := r.PremiumExpiresAt
		if !r.Premium {
			current = nil
		}
		expires = ExtendPremium(current, now, s.cfg.ReferralDays)
		r.ReferralCount++
		r.Premium = true
		r.PremiumExpiresAt = &expires
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("referral applied", "user_id", u.ID, "referrer_id", referrer.ID, "premium_until", Stamp(expires))
	return referrer, nil
}

// ExpirePremium switches off every premium period that ended before now.
func (s *Service) ExpirePremium(ctx context.Context) (int, error) {
	now := s.now()
	users, err := s.store.ListExpiredPremium(ctx, now)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, listed := range users {
		expired := false
		_, err := s.ModifyUser(ctx, listed.ID, func(u *store.User) error {
			// Skip users whose premium was renewed after the listing.
			if !u.Premium || PremiumActive(u.PremiumExpiresAt, now) {
				return errUnchanged
			}
			u.Premium = false
			u.PremiumExpiresAt = nil
			expired = true
			return nil
		})
		if err != nil {
			return n, fmt.Errorf("expire premium for %s: %w", listed.ID, err)
		}
		if expired {
			n++
		}
	}
	if n > 0 {
		s.logger.Info("premium sweep", "expired", n)
	}
	return n, nil
}

// SendReferralStats messages a user their referral program summary.
func (s *Service) SendReferralStats(ctx context.Context, userID string) error {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	access, err := s.PremiumAccess(ctx, u)
	if err != nil {
		return err
	}
	if s.notifier == nil {
		return nil
	}
	return s.notifier.Send(ctx, userID, ReferralStatsMessage(u, access, s.cfg.ReferralDays))
}
