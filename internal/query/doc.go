// Package query maintains live circular geo queries over a location store.
//
// A Query watches every location within a radius of a center point. It splits
// the circle into geohash prefix ranges, subscribes to each range in the
// backing store and reports keys that enter, move within, or leave the circle.
// Changing the center or radius reuses the subscriptions that still overlap
// and opens only the missing ones. Ranges that are no longer needed are
// released later, in batches.
//
// Every Query owns one goroutine. Public calls, store notifications and
// timers are all turned into tasks on a FIFO queue that this goroutine drains,
// so the query state is never touched concurrently. Callbacks run on that
// goroutine too. A callback may cancel its own Registration or the Query, but
// it must not call On, OnReady, OnError or UpdateCriteria on the query that
// invoked it.
package query
