package notaryd

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"
)

const secondsPerDay = 86400

// TierFunction maps a success count and an optional first-success timestamp
// to a reputation tier. Thresholds are asymmetric by design: strict `>` on
// counts, `>=` on age. Evaluated top to bottom, first match wins.
func TierFunction(successCount int, firstSuccessAt int64, hasFirstSuccess bool, now int64) Tier {
	var ageDays int64
	if hasFirstSuccess {
		ageDays = (now - firstSuccessAt) / secondsPerDay
		if ageDays < 0 {
			ageDays = 0
		}
	}

	switch {
	case successCount > 30 && ageDays >= 120:
		return TierExperienced
	case successCount > 10 && ageDays >= 90:
		return TierIntermediate
	case successCount > 5:
		return TierBeginner
	default:
		return TierNone
	}
}

// badgeFacts is the materialized input to a badge publish: everything the
// event's tags are a pure function of.
type badgeFacts struct {
	tier     Tier
	reported bool
}

// factsForLinkedEphemeral computes badge facts for an ephemeral known to be
// linked to master, on network, as of now.
func factsForLinkedEphemeral(store *Store, master, network string, now int64) (badgeFacts, error) {
	count, err := store.SuccessCountForMaster(master, network)
	if err != nil {
		return badgeFacts{}, err
	}
	firstAt, hasFirst, err := store.FirstSuccessAtForMaster(master, network)
	if err != nil {
		return badgeFacts{}, err
	}
	reported, err := store.IsMasterReported(master)
	if err != nil {
		return badgeFacts{}, err
	}
	return badgeFacts{
		tier:     TierFunction(count, firstAt, hasFirst, now),
		reported: reported,
	}, nil
}

// factsForUnlinkedEphemeral computes badge facts for an ephemeral with no
// known master: tier is always none.
func factsForUnlinkedEphemeral(store *Store, ephemeral string) (badgeFacts, error) {
	reported, err := store.IsEphemeralReported(ephemeral)
	if err != nil {
		return badgeFacts{}, err
	}
	return badgeFacts{tier: TierNone, reported: reported}, nil
}

// BadgePublisher signs and republishes kind-38385 badge events. It is a thin
// wrapper over the relay pool bound to the notary's own signing key.
type BadgePublisher struct {
	pool      *nostr.SimplePool
	relays    []string
	secretKey string
	ioTimeout time.Duration
	log       zerolog.Logger
}

func NewBadgePublisher(pool *nostr.SimplePool, relays []string, secretKey string, ioTimeout time.Duration, log zerolog.Logger) *BadgePublisher {
	return &BadgePublisher{pool: pool, relays: relays, secretKey: secretKey, ioTimeout: ioTimeout, log: log}
}

// PublishForEphemeral builds and publishes the badge for (ephemeral,
// network), optionally scoped to a known master. A store lookup error
// aborts the publish; an I/O timeout is logged and swallowed — it must never
// block the caller's pipeline (spec §4.5/§7).
func (b *BadgePublisher) PublishForEphemeral(ctx context.Context, store *Store, ephemeral, network, master string, now int64) error {
	var facts badgeFacts
	var err error
	if master != "" {
		facts, err = factsForLinkedEphemeral(store, master, network, now)
	} else {
		facts, err = factsForUnlinkedEphemeral(store, ephemeral)
	}
	if err != nil {
		return fmt.Errorf("compute badge facts: %w", err)
	}

	tags := nostr.Tags{
		{"d", network + ":" + ephemeral},
		{"p", ephemeral},
		{"tier", string(facts.tier)},
		{"net", network},
		{"v", "1"},
	}
	if facts.reported {
		tags = append(tags, nostr.Tag{"reported", "1"})
	}

	evt := nostr.Event{
		Kind:      KindBadge,
		CreatedAt: nostr.Timestamp(now),
		Tags:      tags,
		Content:   "",
	}
	if err := evt.Sign(b.secretKey); err != nil {
		return fmt.Errorf("sign badge event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, b.ioTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range b.pool.PublishMany(pubCtx, b.relays, evt) {
		}
	}()

	select {
	case <-done:
		return nil
	case <-pubCtx.Done():
		b.log.Warn().Str("ephemeral", ephemeral).Str("network", network).Msg("badge publish timed out, swallowing")
		return nil
	}
}
