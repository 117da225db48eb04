// Package infra holds the concrete implementations of the domain contracts.
//
//   - MemoryStore: in-process window store with an optional expiry sweep
//   - StripedLocker: per-key critical sections hashed with xxhash
//   - MemoryStatsStore, RedisStatsStore, PrometheusStats: admission statistics
//   - ChanPool: a plain semaphore for concurrency limiting
package infra
