package notaryd

import (
	"context"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// processReport implements the Report Processor (C5). Author trust is
// already established by the caller.
func (p *Processor) processReport(ctx context.Context, evt *nostr.Event) error {
	buyer, ok := firstTag(evt.Tags, "p")
	if !ok || !isHexPubkey(buyer) {
		return nil
	}
	buyer = strings.ToLower(buyer)
	network := normalizeNetwork(firstTagDefault(evt.Tags, "net", NetworkMainnet))
	report := firstTagDefault(evt.Tags, "report", "scammer")

	coordinator := strings.ToLower(evt.PubKey)

	inserted, err := p.store.UpsertReport(coordinator, buyer, network, report, int64(evt.CreatedAt))
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
	now := nowSeconds()

	if master != "" {
		return p.republishForMaster(ctx, master, now)
	}

	for _, net := range networks {
		if err := p.badges.PublishForEphemeral(ctx, p.store, buyer, net, "", now); err != nil {
			return err
		}
	}
	return nil
}

// republishForMaster republishes badges for every ephemeral linked to
// master, across both networks.
func (p *Processor) republishForMaster(ctx context.Context, master string, now int64) error {
	ephemerals, err := p.store.ListEphemeralsForMaster(master)
	if err != nil {
		return err
	}
	for _, eph := range ephemerals {
		for _, net := range networks {
			if err := p.badges.PublishForEphemeral(ctx, p.store, eph, net, master, now); err != nil {
				return err
			}
		}
	}
	return nil
}
