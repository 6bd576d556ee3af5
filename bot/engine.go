// Package bot turns inbound chat messages into replies: it runs user
// registration with referral codes, then hands registered users to an LLM
// agent equipped with the tools of their role.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/everydev1618/pmc/agent"
	"github.com/everydev1618/pmc/parking"
	"github.com/everydev1618/pmc/store"
	"github.com/everydev1618/pmc/tools"
)

// Channels a message can arrive on.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelTelegram = "telegram"
)

// skipReferral is the answer that skips the referral code step.
const skipReferral = "SALTAR"

// Inbound is a normalized incoming message.
type Inbound struct {
	Channel   string
	UserID    string
	MessageID string
	Text      string

	// ButtonID is the id of an interactive button or list reply.
	ButtonID string

	// Name is the contact's profile name, when the channel provides one.
	Name string

	ReceivedAt time.Time
}

// Config tunes the engine.
type Config struct {
	HistoryTurns  int
	HistoryKeep   int
	MaxIterations int
	Retry         *agent.RetryPolicy
}

// Engine handles inbound messages.
type Engine struct {
	svc     *parking.Service
	store   store.Store
	runner  *agent.Runner
	history *History
	sender  parking.Notifier
	cfg     Config
	logger  *slog.Logger
}

// NewEngine creates an Engine. Replies go out through sender.
func NewEngine(svc *parking.Service, runner *agent.Runner, sender parking.Notifier, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retry == nil {
		cfg.Retry = agent.DefaultRetryPolicy()
	}
	return &Engine{
		svc:     svc,
		store:   svc.Store(),
		runner:  runner,
		history: NewHistory(svc.Store(), cfg.HistoryTurns, cfg.HistoryKeep),
		sender:  sender,
		cfg:     cfg,
		logger:  logger,
	}
}

// History returns the conversation history used by the engine.
func (e *Engine) History() *History {
	return e.history
}

// ResetConversation deactivates a user's conversation history.
func (e *Engine) ResetConversation(ctx context.Context, userID string) (int, error) {
	return e.history.Reset(ctx, userID)
}

// Handle processes one inbound message.
func (e *Engine) Handle(ctx context.Context, in Inbound) error {
	text := strings.TrimSpace(in.Text)
	if text == "" && in.ButtonID == "" {
		return nil
	}
	log := e.logger.With("user_id", in.UserID, "channel", in.Channel)

	if in.MessageID != "" {
		received := in.ReceivedAt
		if received.IsZero() {
			received = e.svc.Now()
		}
		err := e.store.RecordInbound(ctx, store.InboundMessage{
			ID:         in.MessageID,
			UserID:     in.UserID,
			Channel:    in.Channel,
			Text:       text,
			ReceivedAt: received,
		})
		if errors.Is(err, store.ErrDuplicate) {
			log.Debug("duplicate message dropped", "message_id", in.MessageID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("record inbound: %w", err)
		}
	}

	u, err := e.store.GetUser(ctx, in.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return e.welcome(ctx, in)
	}
	if err != nil {
		return err
	}

	if !u.Registered() {
		return e.register(ctx, u, text)
	}

	input := strings.ToLower(text)
	if in.ButtonID != "" {
		input = strings.ToLower(strings.TrimSpace(in.ButtonID))
	}
	return e.converse(ctx, u, input)
}

func (e *Engine) welcome(ctx context.Context, in Inbound) error {
	now := e.svc.Now()
	u := &store.User{
		ID:           in.UserID,
		Name:         strings.TrimSpace(in.Name),
		Role:         store.RoleDriver,
		Registration: store.RegistrationAwaitingName,
		Chat:         store.ChatState{LastInteraction: now, Step: store.StepInitial},
		CreatedAt:    now,
	}
	if err := e.store.CreateUser(ctx, u); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	e.logger.Info("new user", "user_id", u.ID, "channel", in.Channel)
	return e.sender.Send(ctx, u.ID, welcomeDriver)
}

func (e *Engine) register(ctx context.Context, u *store.User, text string) error {
	if text == "" {
		return e.sender.Send(ctx, u.ID, msgAskName)
	}

	switch u.Registration {
	case store.RegistrationAwaitingReferral:
		return e.registerReferral(ctx, u, text)
	default:
		u.Name = text
		if u.Role == store.RoleManager {
			u.Registration = store.RegistrationComplete
			if err := e.store.UpdateUser(ctx, u); err != nil {
				return err
			}
			return e.sender.Send(ctx, u.ID, confirmManagerRegistration(u.Name))
		}
		u.Registration = store.RegistrationAwaitingReferral
		if err := e.store.UpdateUser(ctx, u); err != nil {
			return err
		}
		return e.sender.Send(ctx, u.ID, askReferralCode(u.Name))
	}
}

func (e *Engine) registerReferral(ctx context.Context, u *store.User, text string) error {
	var referrer *store.User
	if !strings.EqualFold(text, skipReferral) {
		var err error
		referrer, err = e.svc.ApplyReferral(ctx, u, text)
		if errors.Is(err, parking.ErrInvalidReferral) {
			return e.sender.Send(ctx, u.ID, msgInvalidReferral)
		}
		if err != nil {
			return err
		}
	}

	u.Registration = store.RegistrationComplete
	code, err := e.svc.EnsureReferralCode(ctx, u)
	if err != nil {
		return err
	}
	if err := e.store.UpdateUser(ctx, u); err != nil {
		return err
	}
	e.logger.Info("user registered", "user_id", u.ID, "referred", referrer != nil)

	if referrer != nil {
		return e.sender.Send(ctx, u.ID, referralAccepted(referrer.Name, e.svc.Config().ReferralDays, code))
	}
	return e.sender.Send(ctx, u.ID, confirmRegistration(u.Name, code))
}

func (e *Engine) converse(ctx context.Context, u *store.User, input string) error {
	now := e.svc.Now()
	u, err := e.svc.ModifyUser(ctx, u.ID, func(cur *store.User) error {
		cur.Chat.LastInteraction = now
		if cur.Chat.Step == "" || cur.Chat.Step == store.StepInitial {
			cur.Chat.Step = store.StepConversing
		}
		return nil
	})
	if err != nil {
		return err
	}

	a := e.agentFor(u)
	if a == nil {
		return e.sender.Send(ctx, u.ID, msgUnknownRole)
	}

	history, err := e.history.Load(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(history) == 0 && u.Name != "" {
		input = "[Usuario: " + u.Name + "] " + input
	}

	res, err := e.runner.Run(ctx, a, history, input)
	if err != nil {
		e.logger.Error("agent turn failed", "user_id", u.ID, "agent", a.Name, "error", err)
		if sendErr := e.sender.Send(ctx, u.ID, msgProcessingError); sendErr != nil {
			return errors.Join(err, sendErr)
		}
		return fmt.Errorf("agent %s: %w", a.Name, err)
	}
	reply := res.Content
	if reply == "" {
		reply = msgEmptyReply
	}
	e.logger.Info("agent turn",
		"user_id", u.ID,
		"agent", a.Name,
		"iterations", res.Metrics.Iterations,
		"tools", res.Metrics.ToolCalls,
		"input_tokens", res.Metrics.InputTokens,
		"output_tokens", res.Metrics.OutputTokens,
		"cost_usd", res.Metrics.CostUSD,
	)

	if err := e.history.Save(ctx, u.ID, input, reply, now); err != nil {
		e.logger.Warn("save history failed", "user_id", u.ID, "error", err)
	}
	return e.sender.Send(ctx, u.ID, reply)
}

func (e *Engine) agentFor(u *store.User) *agent.Agent {
	var (
		name   string
		system string
		set    *tools.Tools
	)
	switch u.Role {
	case store.RoleDriver:
		name, system, set = "conductor", driverPrompt, DriverTools(e.svc, u.ID)
	case store.RoleManager:
		name, system, set = "gestor", managerPrompt, ManagerTools(e.svc, u.ID)
	default:
		return nil
	}
	set.Use(tools.Logging(e.logger.With("user_id", u.ID)))
	return &agent.Agent{
		Name:          name,
		System:        system,
		Tools:         set,
		MaxIterations: e.cfg.MaxIterations,
		Retry:         e.cfg.Retry,
	}
}
