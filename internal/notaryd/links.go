package notaryd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip59"
)

// rumorEnvelope is the minimal shape every gift-wrapped payload shares: a
// type discriminator plus whatever fields that type needs.
type rumorEnvelope struct {
	Type string `json:"type"`
}

type linkRequestPayload struct {
	MasterPubkey string `json:"master_pubkey"`
}

type linkConfirmPayload struct {
	EphemeralPubkey string `json:"ephemeral_pubkey"`
}

type statsRequestPayload struct {
	ReplyPubkey string  `json:"reply_pubkey"`
	Network     string  `json:"network"`
	RequestID   *string `json:"request_id,omitempty"`
}

// resolveStatsNetwork applies the Stats Responder's network default/validate
// rule: a missing or blank network defaults to mainnet, applied before
// membership is checked, so only an explicitly-invalid value is rejected.
func resolveStatsNetwork(raw string) (string, bool) {
	network := strings.ToLower(strings.TrimSpace(raw))
	if network == "" {
		network = NetworkMainnet
	}
	if network != NetworkMainnet && network != NetworkTestnet {
		return "", false
	}
	return network, true
}

// processGiftWrap implements the Link Engine (C6). Unwrap failures and
// malformed payloads are silent drops — most wraps addressed to the notary
// simply aren't for us, or aren't parseable, and that is normal (spec §7).
func (p *Processor) processGiftWrap(ctx context.Context, evt *nostr.Event) error {
	rumor, err := nip59.GiftUnwrap(*evt, func(otherPubkey, ciphertext string) (string, error) {
		return p.keyer.Decrypt(ctx, ciphertext, otherPubkey)
	})
	if err != nil {
		return nil
	}

	sender := strings.ToLower(rumor.PubKey)

	var env rumorEnvelope
	if err := json.Unmarshal([]byte(rumor.Content), &env); err != nil {
		return nil
	}

	createdAt := int64(rumor.CreatedAt)
	now := nowSeconds()

	switch env.Type {
	case TypeLinkRequest:
		var payload linkRequestPayload
		if err := json.Unmarshal([]byte(rumor.Content), &payload); err != nil {
			return nil
		}
		master := strings.ToLower(payload.MasterPubkey)
		if !isHexPubkey(master) {
			return nil
		}
		if err := p.store.UpsertPendingRequest(sender, master, createdAt); err != nil {
			return err
		}
		return p.finalizeLink(ctx, sender, now)

	case TypeLinkConfirm:
		var payload linkConfirmPayload
		if err := json.Unmarshal([]byte(rumor.Content), &payload); err != nil {
			return nil
		}
		ephemeral := strings.ToLower(payload.EphemeralPubkey)
		if !isHexPubkey(ephemeral) {
			return nil
		}
		if err := p.store.UpsertPendingConfirm(ephemeral, sender, createdAt); err != nil {
			return err
		}
		return p.finalizeLink(ctx, ephemeral, now)

	case TypeStatsRequest:
		var payload statsRequestPayload
		if err := json.Unmarshal([]byte(rumor.Content), &payload); err != nil {
			return nil
		}
		replyPubkey := strings.ToLower(payload.ReplyPubkey)
		if !isHexPubkey(replyPubkey) {
			return nil
		}
		network, ok := resolveStatsNetwork(payload.Network)
		if !ok {
			return nil
		}
		return p.stats.Respond(ctx, statsRequest{
			master:      sender,
			replyPubkey: replyPubkey,
			network:     network,
			requestID:   payload.RequestID,
		})

	default:
		return nil
	}
}

// finalizeLink attempts to join the pending halves for ephemeral and, on
// success, triggers the appropriate badge republish (spec §4.4 step 4).
func (p *Processor) finalizeLink(ctx context.Context, ephemeral string, now int64) error {
	master, err := p.store.TryFinalizeLink(ephemeral, now)
	if err != nil {
		return fmt.Errorf("finalize link: %w", err)
	}
	if master == "" {
		return nil
	}

	reported, err := p.store.IsMasterReported(master)
	if err != nil {
		return err
	}
	if reported {
		return p.republishForMaster(ctx, master, now)
	}

	for _, net := range networks {
		if err := p.badges.PublishForEphemeral(ctx, p.store, ephemeral, net, master, now); err != nil {
			return err
		}
	}
	return nil
}
