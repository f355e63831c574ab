package notaryd

import (
	"context"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/keyer"
	"github.com/rs/zerolog"
)

// Service is the Service Supervisor (C9). It owns the relay pool, the three
// subscriptions, and the single dispatch goroutine every event is funneled
// through — the Go-idiomatic analogue of the spec's single-threaded
// cooperative executor. pool.SubscribeMany already delivers each
// subscription's events on its own goroutine (the "foreign thread" in the
// original design); the dispatch goroutine reads the merged events channel
// below and starts one HandleEvent goroutine per event, so handlers run
// concurrently and Store access is serialized only by the Store's single
// database connection.
type Service struct {
	cfg       Config
	pool      *nostr.SimplePool
	keyer     nostr.Keyer
	store     *Store
	processor *Processor
	log       zerolog.Logger
}

// NewService assembles the supervisor and every component beneath it.
func NewService(cfg Config, log zerolog.Logger) (*Service, error) {
	store, err := OpenStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	kr, err := keyer.NewPlainKeySigner(cfg.SecretKeyHex)
	if err != nil {
		store.Close()
		return nil, err
	}

	pool := nostr.NewSimplePool(context.Background(), nostr.WithAuthHandler(func(ctx context.Context, ie nostr.RelayEvent) error {
		return kr.SignEvent(ctx, ie.Event)
	}))

	ioTimeout := time.Duration(cfg.IOTimeoutSecs) * time.Second
	badges := NewBadgePublisher(pool, cfg.RelayURLs, cfg.SecretKeyHex, ioTimeout, log)
	stats := NewStatsResponder(pool, cfg.RelayURLs, kr, store, ioTimeout, log)
	processor := NewProcessor(store, badges, stats, kr, cfg.TrustedCoordinators, cfg.PublicKeyHex, ioTimeout, log)

	return &Service{
		cfg:       cfg,
		pool:      pool,
		keyer:     kr,
		store:     store,
		processor: processor,
		log:       log,
	}, nil
}

// Run connects relays, installs the three subscriptions, and dispatches
// events until ctx is canceled. It returns once shutdown is complete.
func (s *Service) Run(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.IOTimeoutSecs)*time.Second)
	connected := make(chan struct{})
	go func() {
		defer close(connected)
		for _, url := range s.cfg.RelayURLs {
			if _, err := s.pool.EnsureRelay(url); err != nil {
				s.log.Warn().Str("relay", url).Err(err).Msg("failed to connect, will retry lazily")
			}
		}
	}()
	select {
	case <-connected:
	case <-connectCtx.Done():
		s.log.Warn().Msg("relay connect timed out, continuing")
	}
	cancel()

	s.log.Info().
		Str("notary_pubkey", s.cfg.PublicKeyHex).
		Strs("relays", s.cfg.RelayURLs).
		Int("trusted_coordinators", len(s.cfg.TrustedCoordinators)).
		Int64("since_secs", s.cfg.SinceSecs).
		Int64("giftwrap_since_secs", s.cfg.GiftwrapSince).
		Msg("notary starting")

	events := make(chan *nostr.Event, 256)

	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()

	go s.fanSubscription(subCtx, events, "receipts", nostr.Filter{
		Kinds:   []int{KindReceipt},
		Authors: trustedAuthors(s.cfg.TrustedCoordinators),
		Since:   sinceFilter(s.cfg.SinceSecs),
	})
	go s.fanSubscription(subCtx, events, "reports", nostr.Filter{
		Kinds:   []int{KindReport},
		Authors: trustedAuthors(s.cfg.TrustedCoordinators),
		Since:   sinceFilter(s.cfg.SinceSecs),
	})

	giftwrapFilter := nostr.Filter{
		Kinds: []int{KindGiftWrap},
		Since: sinceFilter(s.cfg.GiftwrapSince),
	}
	if !s.cfg.Debug {
		giftwrapFilter.Tags = nostr.TagMap{"p": []string{s.cfg.PublicKeyHex}}
	}
	go s.fanSubscription(subCtx, events, "links", giftwrapFilter)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case evt, ok := <-events:
			if !ok {
				s.shutdown()
				return nil
			}
			// Each event gets its own task; a slow or failing handler for one
			// event must not stall the dispatch loop for the next.
			go s.processor.HandleEvent(ctx, evt)
		}
	}
}

// fanSubscription runs one labeled subscription and forwards every event it
// receives onto the shared dispatch channel. This is the "foreign thread
// posts to the executor" bridge: the handler itself (HandleEvent) never runs
// here, only a channel send.
func (s *Service) fanSubscription(ctx context.Context, out chan<- *nostr.Event, label string, filter nostr.Filter) {
	for ie := range s.pool.SubscribeMany(ctx, s.cfg.RelayURLs, filter) {
		evt := ie.Event
		select {
		case out <- evt:
		case <-ctx.Done():
			return
		}
	}
	s.log.Debug().Str("subscription", label).Msg("subscription ended")
}

func (s *Service) shutdown() {
	s.pool.Close("shutdown")
	if err := s.store.Close(); err != nil {
		s.log.Warn().Err(err).Msg("closing store")
	}
	s.log.Info().Msg("notary stopped")
}

func trustedAuthors(trusted map[string]struct{}) []string {
	authors := make([]string, 0, len(trusted))
	for pk := range trusted {
		authors = append(authors, pk)
	}
	return authors
}

func sinceFilter(secs int64) *nostr.Timestamp {
	ts := nostr.Timestamp(secs)
	return &ts
}
