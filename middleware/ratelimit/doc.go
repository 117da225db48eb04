// Package ratelimit provides net/http admission middleware: fixed-window rate
// limiting and an in-flight concurrency cap.
//
// Layers:
//
//   - domain: types and contracts (no net/http)
//   - application: the window policy (Evaluate/Commit) and admission service
//   - infra: window store, striped locks, stats sinks, slot pool
//   - presets: named quotas (standard, strict, public, webhook)
//   - ratelimit (this package): middleware, identifier extraction, headers and
//     the JSON error body
//
// Per request:
//
//  1. Skip predicate short-circuits everything
//  2. The identifier picks the window
//  3. The application layer admits or rejects under a per-key lock
//  4. Rejected requests get 429 with Retry-After; admitted ones get the
//     X-RateLimit-* headers and reach the next handler
package ratelimit
