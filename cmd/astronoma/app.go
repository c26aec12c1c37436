package main

import (
	"context"
	"fmt"
	"net/http"

	"astronoma/internal/assets"
	"astronoma/internal/channel"
	"astronoma/internal/config"
	"astronoma/internal/gate"
	"astronoma/internal/generation"
	"astronoma/internal/logging"
	"astronoma/internal/types"
	"astronoma/internal/universe"

	"go.uber.org/zap"
)

// app owns the process-wide services. Each command builds one and closes it.
type app struct {
	cfg      *config.Config
	universe *generation.UniverseClient
	batch    *generation.BatchClient
	cache    *assets.Cache
	client   *channel.Client
	service  *channel.Service
	explorer *universe.Explorer

	unsubscribe []func()
}

func newApp(c *config.Config) (*app, error) {
	httpClient := &http.Client{Timeout: c.GetHTTPTimeout()}

	a := &app{
		cfg:      c,
		universe: generation.NewUniverseClient(c.API.BaseURL, c.GetHTTPTimeout()),
		batch:    generation.NewBatchClient(c.API.BaseURL, c.GetBatchTimeout(), generation.WithHTTPClient(httpClient)),
	}

	cache, err := assets.New(a.batch,
		assets.WithFetcher(generation.NewImageFetcher(c.API.BaseURL, httpClient)),
		assets.WithMaxEntries(c.Assets.MaxEntries),
		assets.WithSize(c.Assets.Width, c.Assets.Height),
		assets.WithFetchTimeout(c.GetFetchTimeout()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create texture cache: %w", err)
	}
	a.cache = cache

	a.client = channel.NewClient(channel.NewWSTransport(c.API.ChannelURL), channel.Options{
		ConnectTimeout:    c.GetConnectTimeout(),
		ReconnectAttempts: c.Channel.ReconnectAttempts,
		ReconnectDelay:    c.GetReconnectDelay(),
	})
	a.service = channel.NewService(a.client, channel.Timeouts{
		Narration:     c.GetNarrationTimeout(),
		Chat:          c.GetChatTimeout(),
		Transcription: c.GetTranscriptionTimeout(),
		Speech:        c.GetSpeechTimeout(),
		Generation:    c.GetGenerationTimeout(),
	})

	a.explorer = universe.NewExplorer(a.cache,
		universe.WithGenerator(universe.ViaHTTP, a.universe),
		universe.WithGenerator(universe.ViaChannel, universe.GeneratorFunc(a.service.GenerateUniverse)),
		universe.WithMinDwell(c.GetMinDwell()),
		universe.WithGateOptions(
			gate.WithDisplayDelay(c.GetDisplayDelay()),
			gate.WithMaxWait(c.GetMaxWait()),
		),
	)

	a.unsubscribe = append(a.unsubscribe,
		a.service.OnConnected(func(message string) {
			logging.Channel("backend says: %s", message)
		}),
		a.service.OnNavigate(func(action types.NavigationAction) {
			a.explorer.HandleNavigate(action)
		}),
	)

	if logger != nil {
		logger.Debug("services ready",
			zap.String("api", c.API.BaseURL),
			zap.String("channel", c.API.ChannelURL),
			zap.Int("cache_max_entries", c.Assets.MaxEntries))
	}
	return a, nil
}

// loadUniverse fetches a stored universe and makes it current.
func (a *app) loadUniverse(ctx context.Context, id string) (*types.UniverseDocument, error) {
	doc, err := a.universe.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	a.explorer.SetDocument(doc)
	return doc, nil
}

// Close drops the channel connection and clears the texture cache.
func (a *app) Close() error {
	for _, un := range a.unsubscribe {
		un()
	}
	a.cache.Clear()
	return a.client.Close()
}
