package redisqueue

import "github.com/henriquebonfim/ultradl/internal/kv"

const keyPrefix = "job:"

func jobKey(id string) string {
	return keyPrefix + id
}

// statusTransitionScript performs the atomic compare-and-swap the queue
// lifecycle transitions (Pull's claim, ExtendLock, Complete, Return,
// Kill) are built on: it overwrites the stored record
// with newJSON only if the currently stored job's Status still
// matches expectedStatus, mirroring the SQL backend's
// "UPDATE ... WHERE status = ?".
//
// ARGV[1] expected current status ("" to skip the check)
// ARGV[2] full replacement job JSON
// ARGV[3] ttl in seconds ("0" keeps the existing TTL)
var statusTransitionScript = &kv.Script{Source: `
local raw = redis.call("GET", KEYS[1])
if not raw then
	return false
end
local current = cjson.decode(raw)
if ARGV[1] ~= "" and current["Status"] ~= ARGV[1] then
	return false
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], ARGV[2], "EX", ARGV[3])
else
	redis.call("SET", KEYS[1], ARGV[2], "KEEPTTL")
end
return true
`}

// progressMergeScript implements the progress_update contract from
// §4.1: it refuses silently (returns false) if the key is absent,
// clamps the percentage to the monotonic non-decreasing invariant,
// merges the remaining progress fields, refreshes updated_at and the
// TTL, all in one round trip.
//
// ARGV[1] percentage
// ARGV[2] phase
// ARGV[3] speed ("" for null)
// ARGV[4] eta ("" for null)
// ARGV[5] updated_at (RFC3339Nano, UTC)
// ARGV[6] ttl in seconds ("0" keeps the existing TTL)
var progressMergeScript = &kv.Script{Source: `
local raw = redis.call("GET", KEYS[1])
if not raw then
	return false
end
local j = cjson.decode(raw)
local pct = tonumber(ARGV[1])
local cur = 0
if j["Progress"] and j["Progress"]["Percentage"] then
	cur = j["Progress"]["Percentage"]
end
if pct < cur then
	pct = cur
end
j["Progress"] = j["Progress"] or {}
j["Progress"]["Percentage"] = pct
j["Progress"]["Phase"] = ARGV[2]
if ARGV[3] ~= "" then
	j["Progress"]["Speed"] = ARGV[3]
else
	j["Progress"]["Speed"] = cjson.null
end
if ARGV[4] ~= "" then
	j["Progress"]["ETA"] = ARGV[4]
else
	j["Progress"]["ETA"] = cjson.null
end
j["UpdatedAt"] = ARGV[5]
local encoded = cjson.encode(j)
if tonumber(ARGV[6]) > 0 then
	redis.call("SET", KEYS[1], encoded, "EX", ARGV[6])
else
	redis.call("SET", KEYS[1], encoded, "KEEPTTL")
end
return encoded
`}

// statusUpdateScript implements UpdateStatus as a single round trip:
// it reads the stored job, refuses if it is already terminal, and
// writes the new status (plus error detail, for a Failed transition)
// in the same script invocation, so no suspension point ever exists
// between the read and the conditional write.
//
// Returns "ok", "not_found" or "terminal".
//
// ARGV[1] new status
// ARGV[2] error message ("" if none)
// ARGV[3] error category ("" if none)
// ARGV[4] "1" to set ErrorMessage/ErrorCategory, "0" to leave them
// ARGV[5] updated_at (RFC3339Nano, UTC)
// ARGV[6] ttl in seconds ("0" keeps the existing TTL)
var statusUpdateScript = &kv.Script{Source: `
local raw = redis.call("GET", KEYS[1])
if not raw then
	return "not_found"
end
local j = cjson.decode(raw)
if j["Status"] == "completed" or j["Status"] == "failed" then
	return "terminal"
end
j["Status"] = ARGV[1]
j["UpdatedAt"] = ARGV[5]
j["LockedUntil"] = cjson.null
if ARGV[4] == "1" then
	j["ErrorMessage"] = ARGV[2]
	j["ErrorCategory"] = ARGV[3]
end
local encoded = cjson.encode(j)
if tonumber(ARGV[6]) > 0 then
	redis.call("SET", KEYS[1], encoded, "EX", ARGV[6])
else
	redis.call("SET", KEYS[1], encoded, "KEEPTTL")
end
return "ok"
`}

// completeWithArtifactScript implements CompleteWithArtifact as a
// single round trip: it reads the stored job, refuses unless it is
// currently Processing, and writes the Completed transition plus the
// resolved artifact fields in the same invocation.
//
// Returns "ok", "not_found" or "not_processing".
//
// ARGV[1] download URL
// ARGV[2] token
// ARGV[3] expire_at (RFC3339Nano, UTC)
// ARGV[4] updated_at (RFC3339Nano, UTC)
// ARGV[5] ttl in seconds ("0" keeps the existing TTL)
var completeWithArtifactScript = &kv.Script{Source: `
local raw = redis.call("GET", KEYS[1])
if not raw then
	return "not_found"
end
local j = cjson.decode(raw)
if j["Status"] ~= "processing" then
	return "not_processing"
end
j["Status"] = "completed"
j["UpdatedAt"] = ARGV[4]
j["LockedUntil"] = cjson.null
j["DownloadURL"] = ARGV[1]
j["Token"] = ARGV[2]
j["ExpireAt"] = ARGV[3]
local encoded = cjson.encode(j)
if tonumber(ARGV[5]) > 0 then
	redis.call("SET", KEYS[1], encoded, "EX", ARGV[5])
else
	redis.call("SET", KEYS[1], encoded, "KEEPTTL")
end
return "ok"
`}

// attachErrorScript implements AttachError as a single round trip: it
// reads the stored job and writes the categorized error detail in the
// same invocation, without otherwise touching status. There is no
// terminal check: a retryable failure may legitimately attach error
// detail to a still-Processing job ahead of the queue's own
// Return/Kill transition.
//
// Returns "ok" or "not_found".
//
// ARGV[1] error message
// ARGV[2] error category
// ARGV[3] updated_at (RFC3339Nano, UTC)
// ARGV[4] ttl in seconds ("0" keeps the existing TTL)
var attachErrorScript = &kv.Script{Source: `
local raw = redis.call("GET", KEYS[1])
if not raw then
	return "not_found"
end
local j = cjson.decode(raw)
j["ErrorMessage"] = ARGV[1]
j["ErrorCategory"] = ARGV[2]
j["UpdatedAt"] = ARGV[3]
local encoded = cjson.encode(j)
if tonumber(ARGV[4]) > 0 then
	redis.call("SET", KEYS[1], encoded, "EX", ARGV[4])
else
	redis.call("SET", KEYS[1], encoded, "KEEPTTL")
end
return "ok"
`}
