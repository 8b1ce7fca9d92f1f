// Package fanout implements the Progress Fan-Out (component N): a
// push channel from workers to subscribed clients, one room per job,
// per spec §4.12.
//
// Topology: a concurrent map from job id to a set of subscribers,
// guarded by a sync.RWMutex (read-heavy: broadcasts read the
// subscriber set far more often than clients subscribe/unsubscribe).
// Each subscriber is a bounded outbound channel; a publish that finds
// a full channel drops that subscriber rather than blocking, per §9's
// explicit redesign note ("no blocking of publishers on slow
// subscribers") — a dropped subscriber falls back to polling the HTTP
// status endpoint.
//
// Events within a single room are delivered in publish order to every
// subscriber present at publish time; there is no ordering guarantee
// across rooms.
package fanout
