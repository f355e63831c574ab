package notaryd

import "github.com/nbd-wtf/go-nostr"

// nowSeconds returns the current UNIX time, sourced the same way the
// teacher's event timestamps are (nostr.Now()), so badge publish times and
// event CreatedAt values share one clock.
func nowSeconds() int64 {
	return int64(nostr.Now())
}
