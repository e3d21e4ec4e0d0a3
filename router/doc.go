/*
Package router delivers each client request to exactly one device, returns
exactly one response (or error) to the originating client, and fans out
unsolicited device events to every client attached to the device.

Correlation is by (connection id, message id): the pending table owns that
pairing, enforces a TTL, and drives per-request timeouts and retries from a
shared 100ms tick.
*/
package router
