// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Options configures a Bridge. Transport may be nil until the federation
// side has been configured; outbound operations then degrade to logged
// no-ops.
type Options struct {
	Log         zerolog.Logger
	Store       Store
	Transport   Transport
	Media       MediaService
	Broadcaster Broadcaster
	Metrics     *Metrics
	Settings    *Settings

	// VerifyConcurrency bounds parallel profile queries in VerifyIdentifiers.
	VerifyConcurrency int
}

// Bridge translates local domain events into federation calls and
// federation events into local mutations.
type Bridge struct {
	log       zerolog.Logger
	store     Store
	transport Transport
	media     MediaService
	bus       Broadcaster
	metrics   *Metrics
	settings  settingsHolder

	verifyConcurrency int
	// localEvents lists the local bus events subscribed to.
	localEvents []string
}

// New creates a bridge from its collaborators.
func New(opts Options) *Bridge {
	b := &Bridge{
		log:               opts.Log.With().Str("component", "bridge").Logger(),
		store:             opts.Store,
		transport:         opts.Transport,
		media:             opts.Media,
		bus:               opts.Broadcaster,
		metrics:           opts.Metrics,
		verifyConcurrency: opts.VerifyConcurrency,
	}
	if b.verifyConcurrency <= 0 {
		b.verifyConcurrency = 8
	}
	if opts.Settings != nil {
		snapshot := *opts.Settings
		b.settings.ptr.Store(&snapshot)
	}
	return b
}

// Settings returns the current settings snapshot.
func (b *Bridge) Settings() Settings {
	return *b.settings.load()
}

// ApplySetting changes one runtime setting. Concurrent readers switch to the
// new snapshot on their next load.
func (b *Bridge) ApplySetting(key string, value any) error {
	next, err := b.settings.apply(key, value)
	if err != nil {
		return err
	}
	b.log.Info().Str("key", key).Interface("value", value).Msg("Applied setting change")
	if key == SettingServerName && next.ServerName == "" {
		b.log.Warn().Msg("Federation server name is now empty")
	}
	return nil
}

// Start subscribes the inbound adapter to every federation event stream.
func (b *Bridge) Start(src EventSource) {
	for _, evtType := range AllEventTypes {
		src.Subscribe(evtType, b.HandleFederationEvent)
	}
	b.log.Info().Int("streams", len(AllEventTypes)).Msg("Subscribed to federation events")
}

func (b *Bridge) serverName() string {
	return b.settings.load().ServerName
}

// call runs one transport request, recording its duration and wrapping any
// failure in a TransportError.
func (b *Bridge) call(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	b.metrics.ObserveTransport(op, time.Since(start))
	return transportErr(op, err)
}

func (b *Bridge) publish(ctx context.Context, name string, payload any) {
	if b.bus == nil {
		return
	}
	if err := b.bus.Publish(ctx, name, payload); err != nil {
		b.log.Warn().Err(err).Str("event", name).Msg("Local subscribers failed")
	}
}

// available reports whether the transport is configured, logging a warning
// for the skipped operation otherwise.
func (b *Bridge) available(op string) bool {
	if b.transport != nil {
		return true
	}
	b.log.Warn().Str("operation", op).Msg("Federation transport not configured, skipping")
	return false
}
