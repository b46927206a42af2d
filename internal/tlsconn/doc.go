// Package tlsconn
// Author: momentics <momentics@gmail.com>
//
// Package tlsconn is the crypto/tls implementation of the client TLS layer.
// The handshake runs on a helper goroutine over a duplicate of the accepted
// descriptor and reports completion back to the event loop through a
// Poster. Record reads are bounded by a short deadline so the loop never
// parks on a socket.
package tlsconn
