// Package redishistory implements history.Store on a Redis stream so that
// conversion records survive restarts and are shared by every replica.
//
// Design Notes
//   - Records: one XADD per conversion; the stream entry ID is the record ID
//   - Ordering: stream IDs are monotonic, so XRANGE yields arrival order
//   - Pagination: XRANGE with an exclusive start ("(" + cursor), Redis >= 6.2
//   - Trimming: approximate MAXLEN when Config.MaxLen > 0
//
// Example:
//
//	store, _ := redishistory.New(redishistory.Config{RedisAddr: "localhost:6379"})
//	defer store.Close()
//
// Use memoryhistory for ephemeral development.
package redishistory
