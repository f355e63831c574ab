// Package notaryd implements the buyer-reputation notary: a long-running
// aggregator that ingests coordinator-signed receipts and scam reports for
// buyer ephemeral pubkeys, links ephemerals to master identities through a
// gift-wrapped handshake, and republishes parameterized-replaceable badge
// events reflecting a master's reputation tier.
package notaryd

// Event kinds on the wire. See spec §4.1 and §6.
const (
	KindReceipt  = 38384
	KindBadge    = 38385
	KindReport   = 38386
	KindGiftWrap = 1059
)

// Gift-wrapped rumor payload types exchanged over the handshake/stats channel.
const (
	TypeLinkRequest   = "robosats.reputation.link.request.v1"
	TypeLinkConfirm   = "robosats.reputation.link.confirm.v1"
	TypeStatsRequest  = "robosats.reputation.stats.request.v1"
	TypeStatsResponse = "robosats.reputation.stats.response.v1"
)

// Tier is the reputation tier assigned to a master identity on a given network.
type Tier string

const (
	TierNone         Tier = "none"
	TierBeginner     Tier = "beginner"
	TierIntermediate Tier = "intermediate"
	TierExperienced  Tier = "experienced"
)

const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
)

// networks lists every network a dual-network badge republish must cover.
var networks = []string{NetworkMainnet, NetworkTestnet}
