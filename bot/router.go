package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// TelegramPrefix marks user ids that belong to Telegram chats.
const TelegramPrefix = "tg:"

// Sender delivers text on one channel.
type Sender interface {
	Send(ctx context.Context, userID, text string) error
}

// Router sends messages through the channel a user id belongs to. It
// satisfies parking.Notifier.
type Router struct {
	mu       sync.RWMutex
	whatsapp Sender
	telegram Sender
}

// NewRouter creates a router with WhatsApp as the default channel.
func NewRouter(whatsapp Sender) *Router {
	return &Router{whatsapp: whatsapp}
}

// SetTelegram enables the Telegram channel.
func (r *Router) SetTelegram(s Sender) {
	r.mu.Lock()
	r.telegram = s
	r.mu.Unlock()
}

// ChannelOf returns the channel name of a user id.
func ChannelOf(userID string) string {
	if strings.HasPrefix(userID, TelegramPrefix) {
		return ChannelTelegram
	}
	return ChannelWhatsApp
}

// Send implements parking.Notifier.
func (r *Router) Send(ctx context.Context, userID, text string) error {
	r.mu.RLock()
	s := r.whatsapp
	if ChannelOf(userID) == ChannelTelegram {
		s = r.telegram
	}
	r.mu.RUnlock()
	if s == nil {
		return fmt.Errorf("no sender for channel %s", ChannelOf(userID))
	}
	return s.Send(ctx, userID, text)
}
