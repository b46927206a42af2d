// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the single-threaded readiness and timeout event
// loop that drives every connection: epoll on Linux, plus a timer heap and
// queues for deferred and cross-goroutine calls.
package reactor
