// Package dedupe remembers idempotency keys and the responses they produced,
// so a retried create within the TTL window replays the first result.
package dedupe
