// Package wsclose
// Author: momentics <momentics@gmail.com>
//
// Package wsclose implements the RFC 6455 closing handshake for client
// contexts on WebSocket endpoints: it queues a close frame, flushes it
// through the connection transport, waits for the peer's close reply or a
// timeout, and then releases the context.
//
// It also carries the small frame codec the handshake needs: unmasked
// server frames out, masked client frames in.
package wsclose
