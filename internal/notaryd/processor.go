package notaryd

import (
	"context"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"
)

// Processor wires together the store, badge publisher, and stats responder
// behind the operations the Event Classifier dispatches to. One Processor is
// shared by every per-event goroutine the service starts; it holds no
// internal locking beyond the Store's own.
type Processor struct {
	store     *Store
	badges    *BadgePublisher
	stats     *StatsResponder
	keyer     nostr.Keyer
	trusted   map[string]struct{}
	notaryPK  string
	ioTimeout time.Duration
	log       zerolog.Logger
}

func NewProcessor(store *Store, badges *BadgePublisher, stats *StatsResponder, keyer nostr.Keyer, trusted map[string]struct{}, notaryPK string, ioTimeout time.Duration, log zerolog.Logger) *Processor {
	return &Processor{
		store:     store,
		badges:    badges,
		stats:     stats,
		keyer:     keyer,
		trusted:   trusted,
		notaryPK:  notaryPK,
		ioTimeout: ioTimeout,
		log:       log,
	}
}

// HandleEvent is the Event Classifier (C3): dispatch by kind, gate authorship
// for receipts/reports, and drop anything else silently.
func (p *Processor) HandleEvent(ctx context.Context, evt *nostr.Event) {
	switch evt.Kind {
	case KindReceipt:
		if !p.isTrusted(evt.PubKey) {
			p.log.Debug().Str("author", evt.PubKey).Msg("dropping receipt from untrusted author")
			return
		}
		if err := p.processReceipt(ctx, evt); err != nil {
			p.log.Error().Err(err).Msg("process receipt")
		}
	case KindReport:
		if !p.isTrusted(evt.PubKey) {
			p.log.Debug().Str("author", evt.PubKey).Msg("dropping report from untrusted author")
			return
		}
		if err := p.processReport(ctx, evt); err != nil {
			p.log.Error().Err(err).Msg("process report")
		}
	case KindGiftWrap:
		if err := p.processGiftWrap(ctx, evt); err != nil {
			p.log.Debug().Err(err).Msg("process gift wrap")
		}
	default:
		// not of interest; drop.
	}
}

func (p *Processor) isTrusted(pubkey string) bool {
	_, ok := p.trusted[strings.ToLower(pubkey)]
	return ok
}
