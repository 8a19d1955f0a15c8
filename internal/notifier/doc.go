// Package notifier sends short operator messages about work-order events.
//
// The service listens on the event bus, turns selected signals into messages and
// delivers them through a Sender (for example the Telegram transport). Delivery is
// asynchronous: a bounded queue feeds a small worker pool that applies a token-bucket
// rate limit and retries with backoff.
//
// # Dedup
//
// Identical messages are suppressed for DedupWindow. With PersistDedup the suppression
// state is written to storage so it survives restarts.
package notifier
