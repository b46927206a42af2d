// Package script
// Author: momentics <momentics@gmail.com>
//
// Per-connection worker processes attached to client contexts.

package script

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/momentics/hioload-uwsd/internal/client"
	"github.com/momentics/hioload-uwsd/internal/logging"
	"golang.org/x/sys/unix"
)

// WorkerFD is the descriptor number of the worker's end of the socket pair.
const WorkerFD = 3

// DefaultGrace is how long a worker may take to exit after SIGTERM before
// it is killed.
const DefaultGrace = 3 * time.Second

// Supervisor starts workers for client contexts and terminates them when
// the context is released. Attach and CloseScript run on the loop
// goroutine; reaping happens in the background.
type Supervisor struct {
	grace time.Duration
	log   *slog.Logger

	mu    sync.Mutex
	procs map[*client.Context]*exec.Cmd
	wg    sync.WaitGroup
}

var _ client.ScriptCloser = (*Supervisor)(nil)

// NewSupervisor creates an empty supervisor.
func NewSupervisor(grace time.Duration, log *slog.Logger) *Supervisor {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Supervisor{
		grace: grace,
		log:   log,
		procs: make(map[*client.Context]*exec.Cmd),
	}
}

// Attach starts path with args for cl. The worker gets its end of a stream
// socket pair as descriptor 3; the other end becomes cl.Script,
// non-blocking. Connection details are passed in the environment.
func (s *Supervisor) Attach(cl *client.Context, path string, args ...string) error {
	if cl.Closing() {
		return fmt.Errorf("attach script: context closing")
	}
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("attach script: socketpair: %w", err)
	}
	child := os.NewFile(uintptr(fds[1]), "worker")
	defer child.Close()

	cmd := exec.Command(path, args...)
	cmd.ExtraFiles = []*os.File{child}
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("UWSD_WORKER_FD=%d", WorkerFD),
		"UWSD_PEER="+client.FormatPeer(cl.Peer),
		"UWSD_REQUEST_URI="+cl.RequestURI,
	)
	if cl.Endpoint != nil {
		cmd.Env = append(cmd.Env, "UWSD_PROTOCOL="+cl.Endpoint.Protocol.String())
	}
	if err := cmd.Start(); err != nil {
		unix.Close(fds[0])
		return fmt.Errorf("attach script %s: %w", path, err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		s.terminate(cl, cmd)
		return fmt.Errorf("attach script: %w", err)
	}

	s.mu.Lock()
	prev := s.procs[cl]
	s.procs[cl] = cmd
	s.mu.Unlock()
	if prev != nil {
		s.terminate(cl, prev)
	}

	cl.Script.Reset(fds[0])
	cl.Trace("script %s started, pid %d", path, cmd.Process.Pid)
	return nil
}

// CloseScript implements client.ScriptCloser: the worker of cl, if any, is
// sent SIGTERM and reaped in the background.
func (s *Supervisor) CloseScript(cl *client.Context) {
	s.mu.Lock()
	cmd := s.procs[cl]
	delete(s.procs, cl)
	s.mu.Unlock()
	if cmd != nil {
		s.terminate(cl, cmd)
	}
}

func (s *Supervisor) terminate(cl *client.Context, cmd *exec.Cmd) {
	pid := cmd.Process.Pid
	peer := client.FormatPeer(cl.Peer)
	_ = cmd.Process.Signal(unix.SIGTERM)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		kill := time.AfterFunc(s.grace, func() {
			s.log.Warn("script ignored SIGTERM, killing", slog.Int("pid", pid), slog.String("peer", peer))
			_ = cmd.Process.Kill()
		})
		err := cmd.Wait()
		kill.Stop()
		s.log.Debug("script reaped", slog.Int("pid", pid), slog.String("peer", peer), slog.Any("status", err))
	}()
}

// Running returns the number of workers not yet asked to terminate.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

// Wait blocks until every terminated worker has been reaped.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
