package notaryd

import (
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// firstTag returns the second element of the first tag in tags whose first
// element equals key, and true. If no such tag exists, it returns "", false.
// First-match-wins, per the classifier's tag-extraction rule.
func firstTag(tags nostr.Tags, key string) (string, bool) {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == key {
			return tag[1], true
		}
	}
	return "", false
}

func firstTagDefault(tags nostr.Tags, key, def string) string {
	if v, ok := firstTag(tags, key); ok && v != "" {
		return v
	}
	return def
}

func normalizeNetwork(net string) string {
	net = strings.ToLower(strings.TrimSpace(net))
	if net != NetworkMainnet && net != NetworkTestnet {
		return NetworkMainnet
	}
	return net
}
