package notaryd

import (
	"context"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// processReceipt implements the Receipt Processor (C4). Author trust is
// already established by the caller.
func (p *Processor) processReceipt(ctx context.Context, evt *nostr.Event) error {
	d, ok := firstTag(evt.Tags, "d")
	if !ok || d == "" {
		return nil // malformed, silent drop
	}
	buyer, ok := firstTag(evt.Tags, "p")
	if !ok || !isHexPubkey(buyer) {
		return nil
	}
	buyer = strings.ToLower(buyer)
	network := normalizeNetwork(firstTagDefault(evt.Tags, "net", NetworkMainnet))

	coordinator := strings.ToLower(evt.PubKey)
	receiptKey := coordinator + ":" + d

	inserted, err := p.store.UpsertReceipt(receiptKey, coordinator, buyer, network, int64(evt.CreatedAt))
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	master, err := p.store.GetMasterForEphemeral(buyer)
	if err != nil {
		return err
	}
	if master == "" {
		return nil
	}

	return p.badges.PublishForEphemeral(ctx, p.store, buyer, network, master, nowSeconds())
}
