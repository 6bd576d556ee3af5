package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/everydev1618/pmc/agent"
	"github.com/everydev1618/pmc/bot"
	"github.com/everydev1618/pmc/config"
	"github.com/everydev1618/pmc/llm"
	"github.com/everydev1618/pmc/parking"
	"github.com/everydev1618/pmc/semantic"
	"github.com/everydev1618/pmc/serve"
	"github.com/everydev1618/pmc/store"
	"github.com/everydev1618/pmc/whatsapp"
)

func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case config.DriverMongo:
		return store.NewMongoStore(ctx, store.MongoConfig{
			URI:      c.Mongo.URI,
			Database: c.Mongo.Database,
			Timeout:  c.Mongo.Timeout,
		})
	default:
		return store.NewSQLiteStore(c.Store.SQLitePath)
	}
}

// newIndex uses Gemini embeddings when a key is configured and lexical
// scoring otherwise.
func newIndex(ctx context.Context, c *config.Config, st store.Store, logger *slog.Logger) (*semantic.Index, error) {
	var embedder semantic.Embedder
	if c.Embed.APIKey != "" {
		e, err := semantic.NewGenAIEmbedder(ctx, c.Embed.APIKey, c.Embed.Model)
		if err != nil {
			return nil, err
		}
		embedder = e
	} else {
		logger.Info("no embeddings key, semantic search uses lexical scoring")
	}
	return semantic.NewIndex(st, embedder, logger), nil
}

func newModel(c *config.Config) (llm.LLM, error) {
	if c.LLM.APIKey == "" {
		return nil, errors.New("llm.api_key is required")
	}
	opts := []llm.Option{
		llm.WithAPIKey(c.LLM.APIKey),
		llm.WithTemperature(c.LLM.Temperature),
		// The agent's retry policy retries whole model calls.
		llm.WithMaxRetries(0),
	}
	if c.LLM.Model != "" {
		opts = append(opts, llm.WithModel(c.LLM.Model))
	}
	if c.LLM.BaseURL != "" {
		opts = append(opts, llm.WithBaseURL(c.LLM.BaseURL))
	}
	if c.LLM.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(c.LLM.MaxTokens))
	}
	switch c.LLM.Provider {
	case config.ProviderAnthropic:
		return llm.NewAnthropic(opts...), nil
	default:
		return llm.NewOpenAI(opts...), nil
	}
}

func parkingConfig(c *config.Config) parking.Config {
	return parking.Config{
		ReportThreshold: c.Parking.ReportThreshold,
		ReferralDays:    c.Parking.ReferralDays,
	}
}

// app is the wired server process.
type app struct {
	store  store.Store
	server *serve.Server
}

func (a *app) Close() error {
	return a.store.Close()
}

func buildApp(ctx context.Context, c *config.Config, logger *slog.Logger) (_ *app, err error) {
	if err := c.RequireWhatsApp(); err != nil {
		return nil, err
	}
	model, err := newModel(c)
	if err != nil {
		return nil, err
	}
	wa, err := whatsapp.NewClient(whatsapp.Config{
		Token:         c.WhatsApp.Token,
		PhoneNumberID: c.WhatsApp.PhoneNumberID,
		BaseURL:       c.WhatsApp.BaseURL,
		APIVersion:    c.WhatsApp.APIVersion,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err != nil {
			st.Close()
		}
	}()
	if err := st.Init(ctx); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	index, err := newIndex(ctx, c, st, logger)
	if err != nil {
		return nil, err
	}

	router := bot.NewRouter(wa)
	broker := serve.NewEventBroker()
	svc := parking.NewService(st, router,
		parking.WithIndex(index),
		parking.WithPublisher(broker),
		parking.WithConfig(parkingConfig(c)),
		parking.WithLogger(logger),
	)
	engine := bot.NewEngine(svc, agent.NewRunner(model, logger), router, bot.Config{
		HistoryTurns:  c.Bot.HistoryTurns,
		HistoryKeep:   c.Bot.HistoryKeep,
		MaxIterations: c.Bot.MaxIterations,
	}, logger)
	dispatcher := bot.NewDispatcher(engine.Handle, bot.DispatcherConfig{
		Workers:   c.Bot.Workers,
		QueueSize: c.Bot.QueueSize,
		Timeout:   c.Bot.HandlerTimeout,
	}, logger)

	var tg *serve.TelegramBot
	if c.Telegram.Token != "" {
		if tg, err = serve.NewTelegramBot(c.Telegram.Token, dispatcher.Submit, logger); err != nil {
			return nil, err
		}
		router.SetTelegram(tg)
	}

	server, err := serve.New(serve.Config{
		Addr:                  c.Server.Addr,
		AdminToken:            c.Server.AdminToken,
		VerifyToken:           c.WhatsApp.VerifyToken,
		AppSecret:             c.WhatsApp.AppSecret,
		WebhookRatePerMinute:  c.Server.WebhookRatePerMinute,
		WebhookBurst:          c.Server.WebhookBurst,
		TrustedProxies:        c.Server.TrustedProxies,
		ShutdownTimeout:       c.Server.ShutdownTimeout,
		PremiumSweepCron:      c.Jobs.PremiumSweep,
		ConversationPruneCron: c.Jobs.ConversationPrune,
		IndexResyncCron:       c.Jobs.IndexResync,
	}, serve.Deps{
		Service:    svc,
		Engine:     engine,
		Dispatcher: dispatcher,
		Index:      index,
		Broker:     broker,
		Telegram:   tg,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return &app{store: st, server: server}, nil
}
