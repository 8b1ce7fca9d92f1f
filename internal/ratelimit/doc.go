// Package ratelimit implements per-client request throttling for the
// download and status endpoints.
//
// Limits are layered: a short burst window (per-minute), a per-category
// daily ceiling (video/audio/video+audio), and a total daily ceiling,
// checked in that order by Manager.CheckDownloadLimits. A separate
// per-endpoint hourly ceiling guards status/list endpoints via
// Manager.CheckEndpointLimit.
//
// Enforcement is gated by config.ShouldEnforceRateLimit (both enabled
// and running in production) and bypassed entirely for whitelisted IPs,
// matching the original service's operator-controlled rollout story.
// Every counter read or write degrades gracefully to "unlimited" on
// store failure: a rate limiter that fails closed would turn a Redis
// blip into a full outage.
package ratelimit
