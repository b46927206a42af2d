// File: internal/client/doc.go
// Package client
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection lifecycle core. A Context represents one accepted client
// connection together with its optional upstream connection and optional
// subprocess. The Manager creates contexts, hands them to the protocol state
// machine or the TLS layer, and tears them down in a fixed order, either one
// by one or in bulk at shutdown. The Registry tracks every live context.
//
// Everything in this package runs on the reactor goroutine; nothing blocks
// and nothing is locked. A context released while one of its callbacks is
// still on the stack is only marked closing; the outermost Dispatch frame
// finishes the release.

package client
