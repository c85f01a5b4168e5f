// Package sessions tracks per-client conversations: opaque session tokens,
// sliding-expiry validation, per-session monotonic event counters, and the
// bounded replay buffer that lets a reconnecting client catch up on push
// notifications it missed.
//
// The Registry implements all lifecycle logic (expiry, deletion callbacks,
// sweeps) over a pluggable Store that holds the session records themselves.
// The default in-memory store is suitable for single-node deployments; the
// redisstore subpackage shares records across nodes. Replay buffers are
// always process-local and best-effort: they are bounded, in-memory, and
// silently drop history beyond their capacity.
package sessions
