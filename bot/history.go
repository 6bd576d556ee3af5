package bot

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/everydev1618/pmc/agent"
	"github.com/everydev1618/pmc/llm"
	"github.com/everydev1618/pmc/store"
)

// Default history sizes.
const (
	DefaultHistoryTurns = 5
	DefaultHistoryKeep  = 10
)

// History persists agent conversations per user.
type History struct {
	store store.ConversationStore
	turns int
	keep  int
}

// NewHistory creates a History that loads the last turns exchanges and keeps
// keep messages active. Non-positive values use the defaults.
func NewHistory(st store.ConversationStore, turns, keep int) *History {
	if turns <= 0 {
		turns = DefaultHistoryTurns
	}
	if keep <= 0 {
		keep = DefaultHistoryKeep
	}
	return &History{store: st, turns: turns, keep: keep}
}

// Load returns the recent active history as model messages, oldest first.
func (h *History) Load(ctx context.Context, userID string) ([]llm.Message, error) {
	msgs, err := h.store.RecentMessages(ctx, userID, h.turns*2)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := llm.RoleUser
		if m.Role == store.MessageAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return agent.Window(out, h.turns*2), nil
}

// Save appends one exchange and deactivates messages beyond the keep limit.
func (h *History) Save(ctx context.Context, userID, input, reply string, at time.Time) error {
	for i, m := range []struct {
		role    store.MessageRole
		content string
	}{
		{store.MessageUser, input},
		{store.MessageAssistant, reply},
	} {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		// The reply sorts after the input even within the same millisecond.
		err = h.store.AppendMessage(ctx, &store.ConversationMessage{
			ID:        id.String(),
			UserID:    userID,
			Role:      m.role,
			Content:   m.content,
			CreatedAt: at.Add(time.Duration(i) * time.Millisecond),
			Active:    true,
		})
		if err != nil {
			return err
		}
	}
	_, err := h.store.DeactivateOlderMessages(ctx, userID, h.keep)
	return err
}

// Reset marks a user's whole history inactive.
func (h *History) Reset(ctx context.Context, userID string) (int, error) {
	return h.store.ClearConversation(ctx, userID)
}

// Prune trims every user with too many active messages down to the keep limit.
func (h *History) Prune(ctx context.Context) (int, error) {
	users, err := h.store.ListConversationUsers(ctx, h.keep)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range users {
		n, err := h.store.DeactivateOlderMessages(ctx, id, h.keep)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
