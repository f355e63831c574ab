package notaryd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip17"
	"github.com/rs/zerolog"
)

// statsRequest is the validated input to the Stats Responder, already
// unwrapped and type-checked by the Link Engine.
type statsRequest struct {
	master      string
	replyPubkey string
	network     string
	requestID   *string
}

type statsResponsePayload struct {
	Type           string  `json:"type"`
	Network        string  `json:"network"`
	SuccessCount   int     `json:"success_count"`
	Tier           string  `json:"tier"`
	Reported       bool    `json:"reported"`
	CreatedAt      int64   `json:"created_at"`
	FirstSuccessAt *int64  `json:"first_success_at,omitempty"`
	RequestID      *string `json:"request_id,omitempty"`
}

// StatsResponder implements the Stats Responder (C8): it answers an
// encrypted stats request with an encrypted stats response, gift-wrapped to
// the client-nominated reply pubkey.
type StatsResponder struct {
	pool      *nostr.SimplePool
	relays    []string
	keyer     nostr.Keyer
	ioTimeout time.Duration
	log       zerolog.Logger
	store     *Store
}

func NewStatsResponder(pool *nostr.SimplePool, relays []string, keyer nostr.Keyer, store *Store, ioTimeout time.Duration, log zerolog.Logger) *StatsResponder {
	return &StatsResponder{pool: pool, relays: relays, keyer: keyer, store: store, ioTimeout: ioTimeout, log: log}
}

// Respond computes the master's current stats on the requested network and
// sends a gift-wrapped response. Relay I/O timeouts are absorbed; see
// spec §4.6/§7.
func (r *StatsResponder) Respond(ctx context.Context, req statsRequest) error {
	now := nowSeconds()

	count, err := r.store.SuccessCountForMaster(req.master, req.network)
	if err != nil {
		return fmt.Errorf("stats: success count: %w", err)
	}
	firstAt, hasFirst, err := r.store.FirstSuccessAtForMaster(req.master, req.network)
	if err != nil {
		return fmt.Errorf("stats: first success: %w", err)
	}
	reported, err := r.store.IsMasterReported(req.master)
	if err != nil {
		return fmt.Errorf("stats: reported: %w", err)
	}
	tier := TierFunction(count, firstAt, hasFirst, now)

	payload := statsResponsePayload{
		Type:         TypeStatsResponse,
		Network:      req.network,
		SuccessCount: count,
		Tier:         string(tier),
		Reported:     reported,
		CreatedAt:    now,
		RequestID:    req.requestID,
	}
	if hasFirst {
		payload.FirstSuccessAt = &firstAt
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("stats: marshal payload: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.ioTimeout)
	defer cancel()

	var extraTags nostr.Tags
	if len(r.relays) > 0 {
		extraTags = nostr.Tags{{"p", req.replyPubkey, r.relays[0]}}
	} else {
		extraTags = nostr.Tags{{"p", req.replyPubkey}}
	}

	_, toThem, err := nip17.PrepareMessage(sendCtx, string(body), extraTags, r.keyer, req.replyPubkey, nil)
	if err != nil {
		r.log.Warn().Err(err).Msg("stats: prepare gift wrap failed")
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range r.pool.PublishMany(sendCtx, r.relays, toThem) {
		}
	}()

	select {
	case <-done:
		return nil
	case <-sendCtx.Done():
		r.log.Warn().Str("master", req.master).Msg("stats response send timed out, swallowing")
		return nil
	}
}
