// Package inflight bounds how many deliveries may be outstanding at
// once.
//
// The window buckets in this repo answer "how many sends per period";
// this gate answers "how many at the same time". A bot typically holds
// both: the bucket spends the send budget, the gate keeps slow API
// responses from piling up unbounded concurrent requests.
//
//	gate := inflight.New(4)
//
//	for _, msg := range batch {
//		msg := msg
//		go func() {
//			err := gate.Do(ctx, func() error {
//				return deliver(msg)
//			})
//			if err != nil {
//				// ctx ended while waiting for a slot
//			}
//		}()
//	}
//
// Acquire grants permits in arrival order. Release panics when no permit
// is held; pair every Acquire with exactly one Release, or use Do.
package inflight
