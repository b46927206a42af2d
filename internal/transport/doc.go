// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking byte transports bound to a single connection: Plain issues
// raw read/write/writev/sendfile syscalls on the descriptor, Encrypted routes
// through a TLS session. The kind is chosen once per connection and never
// switched afterwards.

package transport
