/*
Package cdp implements the wire formats spoken by the relay: raw Chrome
DevTools Protocol frames, the type-discriminated control messages used by the
legacy extension socket, and the structured envelopes used by the v2 endpoints.

Dynamic CDP payloads (params, result) are deliberately kept as raw JSON.  The
relay forwards almost everything verbatim and only inspects the handful of
fields needed for routing.
*/
package cdp
