// File: cmd/uwsd-echo/daemon.go
// Author: momentics <momentics@gmail.com>
//
// Daemon assembly: reactor, manager, listeners, collaborators and the
// metrics endpoint.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/momentics/hioload-uwsd/api"
	"github.com/momentics/hioload-uwsd/control"
	"github.com/momentics/hioload-uwsd/internal/client"
	"github.com/momentics/hioload-uwsd/internal/listen"
	"github.com/momentics/hioload-uwsd/internal/logging"
	"github.com/momentics/hioload-uwsd/internal/script"
	"github.com/momentics/hioload-uwsd/internal/tlsconn"
	"github.com/momentics/hioload-uwsd/internal/wsclose"
	"github.com/momentics/hioload-uwsd/reactor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// shutdownGrace bounds how long graceful closes may take at exit.
const shutdownGrace = 10 * time.Second

func loadConfig(path string) (*control.Config, error) {
	if path == "" {
		return control.DefaultConfig(), nil
	}
	return control.LoadConfig(path)
}

type daemon struct {
	log     *slog.Logger
	level   *slog.LevelVar
	store   *control.ConfigStore
	loop    *reactor.Reactor
	mgr     *client.Manager
	sup     *script.Supervisor
	closer  *wsclose.Closer
	lst     []*listen.Listener
	scripts map[*client.Endpoint]string
	http    *http.Server
	stopped bool
}

func run(cmd *cobra.Command, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	log, level, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: logging.Format(cfg.Log.Format),
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	loop, err := reactor.New()
	if err != nil {
		return err
	}
	defer loop.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := control.NewMetrics(reg)
	probes := control.NewDebugProbes()
	control.RegisterPlatformProbes(probes)

	d := &daemon{
		log:     log,
		level:   level,
		store:   control.NewConfigStore(cfg),
		loop:    loop,
		sup:     script.NewSupervisor(script.DefaultGrace, log),
		closer:  wsclose.NewCloser(wsclose.DefaultTimeout, log),
		scripts: make(map[*client.Endpoint]string),
	}
	tlsRouter, endpoints, err := d.endpoints(cfg)
	if err != nil {
		return err
	}
	d.mgr = client.NewManager(client.Options{
		Events:       loop,
		StateMachine: &echoMachine{d: d},
		TLS:          tlsRouter,
		Closer:       d.closer,
		Script:       d.sup,
		Logger:       log,
		Metrics:      metrics,
		MaxClients:   cfg.MaxClients,
	})
	d.mgr.RegisterProbes(probes)
	probes.RegisterProbe("scripts.running", func() any { return d.sup.Running() })

	for _, ep := range endpoints {
		l, err := listen.Listen(ep, d.mgr, loop, log)
		if err != nil {
			d.closeListeners()
			return err
		}
		l.SetLimiter(acceptLimiter(cfg))
		probes.RegisterProbe("listen."+ep.Name+".dropped", func() any { return l.Dropped() })
		d.lst = append(d.lst, l)
		log.Info("listening", slog.String("endpoint", ep.Name), slog.String("addr", ep.Addr), slog.String("protocol", ep.Protocol.String()))
	}

	d.store.OnReload(d.applyConfig)
	if cfg.MetricsAddr != "" {
		d.serveMetrics(cfg.MetricsAddr, control.NewHandler(reg, probes))
	}

	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, unix.SIGINT, unix.SIGTERM, unix.SIGHUP)
	defer signal.Stop(sigs)
	go d.handleSignals(sigs, configPath)

	err = loop.Run()
	d.sup.Wait()
	if d.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = d.http.Shutdown(ctx)
		cancel()
	}
	log.Info("stopped")
	return err
}

// endpoints converts the configuration and builds one TLS layer per
// certificate pair.
func (d *daemon) endpoints(cfg *control.Config) (*tlsRouter, []*client.Endpoint, error) {
	router := &tlsRouter{layers: make(map[*client.Endpoint]*tlsconn.Layer)}
	var out []*client.Endpoint
	for i, ec := range cfg.Endpoints {
		proto, err := client.ParseProtocol(ec.Protocol)
		if err != nil {
			return nil, nil, fmt.Errorf("endpoint %d: %w", i, err)
		}
		name := ec.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", proto, i)
		}
		ep := &client.Endpoint{Name: name, Addr: ec.Addr, Protocol: proto}
		if proto.Encrypted() {
			tc, err := tlsconn.ServerConfig(ec.Cert, ec.Key)
			if err != nil {
				return nil, nil, fmt.Errorf("endpoint %q: %w", name, err)
			}
			router.layers[ep] = tlsconn.New(tc, d.loop, tlsconn.Options{Logger: d.log})
		}
		if ec.Script != "" {
			d.scripts[ep] = ec.Script
		}
		out = append(out, ep)
	}
	return router, out, nil
}

func (d *daemon) serveMetrics(addr string, h http.Handler) {
	d.http = &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := d.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error("metrics server", slog.Any("error", err))
		}
	}()
	d.log.Info("metrics listening", slog.String("addr", addr))
}

// handleSignals runs off the loop and forwards work through Post.
func (d *daemon) handleSignals(sigs <-chan os.Signal, configPath string) {
	for sig := range sigs {
		switch sig {
		case unix.SIGHUP:
			if configPath == "" {
				continue
			}
			d.loop.Post(func() {
				if err := d.store.Reload(configPath); err != nil {
					d.log.Error("config reload failed", slog.Any("error", err))
				}
			})
		default:
			d.loop.Post(d.shutdown)
		}
	}
}

func acceptLimiter(cfg *control.Config) *rate.Limiter {
	if cfg.AcceptRate <= 0 {
		return nil
	}
	burst := cfg.AcceptBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.AcceptRate), burst)
}

// applyConfig picks up settings that can change at runtime. It runs on the
// loop goroutine.
func (d *daemon) applyConfig(cfg *control.Config) {
	if lvl, err := logging.ParseLevel(cfg.Log.Level); err == nil {
		d.level.Set(lvl)
	}
	for _, l := range d.lst {
		l.SetLimiter(acceptLimiter(cfg))
	}
	d.log.Info("configuration reloaded", slog.Duration("idle_timeout", cfg.IdleTimeout))
}

func (d *daemon) closeListeners() {
	for _, l := range d.lst {
		_ = l.Close()
	}
	d.lst = nil
}

// shutdown stops accepting, closes every client and stops the loop once the
// registry is empty or the grace period ran out.
func (d *daemon) shutdown() {
	if d.stopped {
		return
	}
	d.stopped = true
	d.closeListeners()
	graceful, immediate := d.mgr.FreeAll()
	d.log.Info("shutting down", slog.Int("graceful", graceful), slog.Int("immediate", immediate))

	deadline := time.Now().Add(shutdownGrace)
	var wait func()
	wait = func() {
		if d.mgr.Len() == 0 || time.Now().After(deadline) {
			d.mgr.Registry().ForEachRemovable(func(cl *client.Context) {
				cl.Close("shutdown grace period expired")
			})
			d.loop.Stop()
			return
		}
		d.loop.AfterFunc(50*time.Millisecond, wait)
	}
	wait()
}

// tlsRouter selects the TLS layer of the endpoint a connection arrived on.
type tlsRouter struct {
	layers map[*client.Endpoint]*tlsconn.Layer
}

func (r *tlsRouter) layer(cl *client.Context) *tlsconn.Layer {
	return r.layers[cl.Endpoint]
}

func (r *tlsRouter) Init(cl *client.Context) bool {
	l := r.layer(cl)
	if l == nil {
		cl.Close("Unable to initialize TLS context: no certificate for endpoint")
		return false
	}
	return l.Init(cl)
}

func (r *tlsRouter) Accept(cl *client.Context) (bool, error) {
	l := r.layer(cl)
	if l == nil {
		return false, api.ErrTransportClosed
	}
	return l.Accept(cl)
}

func (r *tlsRouter) Free(cl *client.Context) {
	if l := r.layer(cl); l != nil {
		l.Free(cl)
	}
}
