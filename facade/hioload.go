// File: facade/hioload.go
// Unified facade layer for hioload-xfer.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Hioload aggregates the event loop, the multiplex engine, the shared resolver
// cache, configuration control, metrics, health and debug probes behind one
// type. The engine runs on the loop goroutine; other goroutines reach it
// through Submit or Go.

package facade

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/heptiolabs/healthcheck"
	"github.com/momentics/hioload-xfer/api"
	"github.com/momentics/hioload-xfer/control"
	"github.com/momentics/hioload-xfer/internal/concurrency"
	"github.com/momentics/hioload-xfer/internal/native"
	"github.com/momentics/hioload-xfer/multi"
	"github.com/momentics/hioload-xfer/transfer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

// Runtime-mutable keys published to the control store.
const (
	KeyTimeout        = "transfer.timeout_ms"
	KeyConnectTimeout = "transfer.connect_timeout_ms"
	KeyUserAgent      = "transfer.user_agent"
	KeyDNSCacheTTL    = "share.dns_cache_ttl_ms"
)

// ErrRunning is returned by Close while Run is active.
var ErrRunning = errors.New("facade: event loop still running")

// Option customizes New.
type Option func(*Hioload)

// WithTracer traces every transfer with t.
func WithTracer(t trace.Tracer) Option {
	return func(h *Hioload) { h.tracer = t }
}

// WithDriver runs the engine on d instead of a fresh native multi handle.
func WithDriver(d multi.Driver) Option {
	return func(h *Hioload) { h.driver = d }
}

type fatalBox struct{ err error }

// Hioload is the main facade type.
type Hioload struct {
	cfg      *Config
	loop     *concurrency.EventLoop
	engine   *multi.Engine
	share    *transfer.Share
	store    *control.ConfigStore
	probes   *control.DebugProbes
	health   healthcheck.Handler
	registry *prometheus.Registry
	tracer   trace.Tracer
	driver   multi.Driver

	// done callbacks by handle; loop goroutine only.
	pending map[*transfer.Handle]multi.CompletionFunc

	active  atomic.Int64
	fatal   atomic.Pointer[fatalBox]
	running atomic.Bool
	runWG   sync.WaitGroup
	closed  bool

	// engineDown is set once the engine was closed after a fatal error.
	engineDown bool
}

// Ensure compliance with api.GracefulShutdown.
var _ api.GracefulShutdown = (*Hioload)(nil)

// New constructs the loop and the engine from cfg.
func New(cfg *Config, opts ...Option) (*Hioload, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Hioload{
		cfg:      cfg,
		store:    control.NewConfigStore(),
		probes:   control.NewDebugProbes(),
		registry: prometheus.NewRegistry(),
		pending:  make(map[*transfer.Handle]multi.CompletionFunc),
	}
	for _, o := range opts {
		o(h)
	}

	loop, err := concurrency.NewEventLoop(concurrency.Config{
		IngressCapacity: cfg.IngressCapacity,
		MaxWait:         cfg.MaxWait,
	})
	if err != nil {
		return nil, fmt.Errorf("event loop init failure: %w", err)
	}
	h.loop = loop

	var reg prometheus.Registerer
	if cfg.EnableMetrics {
		reg = h.registry
	}
	h.engine, err = multi.New(multi.Config{
		Loop:       loop,
		Driver:     h.driver,
		Name:       cfg.Name,
		Registerer: reg,
		Tracer:     h.tracer,
		OnError:    h.onError,
	})
	if err != nil {
		_ = loop.Close()
		return nil, fmt.Errorf("engine init failure: %w", err)
	}
	h.engine.SetCompletionCallback(h.complete)

	h.share = transfer.NewShare()
	h.share.SetDNSCacheTTL(cfg.DNSCacheTTL)

	h.store.SetConfig(map[string]any{
		KeyTimeout:        cfg.Timeout.Milliseconds(),
		KeyConnectTimeout: cfg.ConnectTimeout.Milliseconds(),
		KeyUserAgent:      cfg.UserAgent,
		KeyDNSCacheTTL:    cfg.DNSCacheTTL.Milliseconds(),
	})
	h.store.OnReload(h.reloaded)
	if cfg.ReloadFile != "" {
		if err := control.ReloadFile(h.store, cfg.ReloadFile); err != nil {
			_ = h.engine.Close()
			_ = loop.Close()
			return nil, err
		}
	}

	if cfg.EnableDebug {
		h.registerProbes()
	}
	h.health = control.NewHealth(h.Err, h.running.Load, cfg.MaxGoroutines)
	return h, nil
}

func (h *Hioload) registerProbes() {
	control.RegisterPlatformProbes(h.probes)
	h.probes.RegisterProbe("transfer.open", func() any { return transfer.Stats().Open })
	h.probes.RegisterProbe("transfer.registered", func() any { return transfer.Stats().Registered })
	h.probes.RegisterProbe("engine.active", func() any { return h.active.Load() })
	h.probes.RegisterProbe("engine.fatal", func() any {
		if err := h.Err(); err != nil {
			return err.Error()
		}
		return nil
	})
	h.probes.RegisterProbe("loop.pending", func() any { return h.loop.Pending() })
	h.probes.RegisterProbe("share.cached_hosts", func() any { return h.share.CachedHosts() })
}

func (h *Hioload) reloaded(changed []string) {
	log.Printf("[facade] config reloaded: %v", changed)
	for _, k := range changed {
		if k == KeyDNSCacheTTL {
			h.share.SetDNSCacheTTL(h.store.Duration(KeyDNSCacheTTL, h.cfg.DNSCacheTTL))
		}
	}
}

func (h *Hioload) onError(err error) {
	log.Printf("[facade] engine error: %v", err)
	if api.IsFatal(err) && h.fatal.CompareAndSwap(nil, &fatalBox{err: err}) {
		// Raised from inside the driver; the engine can only be closed later.
		h.loop.Defer(func() { h.failPending(err) })
	}
}

// failPending closes the poisoned engine and completes every transfer it
// still held with the fatal error. Loop goroutine only.
func (h *Hioload) failPending(err error) {
	if h.closed || h.engineDown {
		return
	}
	h.engineDown = true
	if cerr := h.engine.Close(); cerr != nil {
		log.Printf("[facade] close poisoned engine: %v", cerr)
	}
	pending := h.pending
	h.pending = make(map[*transfer.Handle]multi.CompletionFunc)
	log.Printf("[facade] failing %d pending transfers", len(pending))
	for t, done := range pending {
		h.active.Add(-1)
		if done != nil {
			done(err, t, native.AbortedByCallback)
		}
	}
}

// Err returns the fatal error that stopped the engine, if any. Safe from any
// goroutine.
func (h *Hioload) Err() error {
	if b := h.fatal.Load(); b != nil {
		return b.err
	}
	return nil
}

// NewHandle opens a handle configured with the current transfer defaults
// and the shared resolver cache.
func (h *Hioload) NewHandle() (*transfer.Handle, error) {
	t := transfer.Open()
	set := func(id transfer.OptionID, v any) error {
		if err := t.SetOpt(id, v); err != nil {
			_ = t.Close()
			return err
		}
		return nil
	}
	if err := set(transfer.OptTimeout, h.store.Duration(KeyTimeout, h.cfg.Timeout)); err != nil {
		return nil, err
	}
	if err := set(transfer.OptConnectTimeout, h.store.Duration(KeyConnectTimeout, h.cfg.ConnectTimeout)); err != nil {
		return nil, err
	}
	if ua, _ := h.store.Get(KeyUserAgent); ua != nil {
		if s, ok := ua.(string); ok && s != "" {
			if err := set(transfer.OptUserAgent, s); err != nil {
				return nil, err
			}
		}
	}
	if err := set(transfer.OptShare, h.share); err != nil {
		return nil, err
	}
	return t, nil
}

// Add registers t with the engine; done receives its completion after the
// handle has been removed again. Loop goroutine only: call it from a
// completion callback or a function passed to Submit.
func (h *Hioload) Add(t *transfer.Handle, done multi.CompletionFunc) error {
	if err := h.engine.Add(t); err != nil {
		return err
	}
	h.pending[t] = done
	h.active.Add(1)
	return nil
}

// Cancel removes t before completion. Loop goroutine only.
func (h *Hioload) Cancel(t *transfer.Handle) error {
	if err := h.engine.Remove(t); err != nil {
		return err
	}
	if _, ok := h.pending[t]; ok {
		delete(h.pending, t)
		h.active.Add(-1)
	}
	return nil
}

// Go registers t from any goroutine other than the loop's and waits until
// the loop has accepted or refused it.
func (h *Hioload) Go(ctx context.Context, t *transfer.Handle, done multi.CompletionFunc) error {
	res := make(chan error, 1)
	if err := h.loop.Submit(func() { res <- h.Add(t, done) }); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hioload) complete(err error, t *transfer.Handle, status native.Code) {
	done, ok := h.pending[t]
	delete(h.pending, t)
	if ok {
		h.active.Add(-1)
	}
	if rerr := h.engine.Remove(t); rerr != nil {
		log.Printf("[facade] remove %s after completion: %v", t.ID(), rerr)
	}
	if done != nil {
		done(err, t, status)
	}
}

// Submit hands fn to the loop goroutine.
func (h *Hioload) Submit(fn func()) error {
	return h.loop.Submit(fn)
}

// Engine returns the engine. Loop goroutine only.
func (h *Hioload) Engine() *multi.Engine { return h.engine }

// Active returns the number of transfers started through Add or Go that
// have not completed. Safe from any goroutine.
func (h *Hioload) Active() int { return int(h.active.Load()) }

// Run drives the loop until ctx is done or Stop is called.
func (h *Hioload) Run(ctx context.Context) error {
	if h.closed {
		return api.Usage(api.ErrEngineClosed, "facade closed")
	}
	h.runWG.Add(1)
	defer h.runWG.Done()
	if !h.running.CompareAndSwap(false, true) {
		return concurrency.ErrLoopAlreadyRunning
	}
	defer h.running.Store(false)
	return h.loop.Run(ctx)
}

// Running reports whether Run is active. Safe from any goroutine.
func (h *Hioload) Running() bool { return h.running.Load() }

// Stop asks Run to return. Safe from any goroutine.
func (h *Hioload) Stop() { h.loop.Stop() }

// Close releases the engine and the loop. Registered transfers are dropped
// without completion.
func (h *Hioload) Close() error {
	if h.running.Load() {
		return ErrRunning
	}
	if h.closed {
		return nil
	}
	h.closed = true
	var eerr error
	if !h.engineDown {
		eerr = h.engine.Close()
	}
	h.pending = make(map[*transfer.Handle]multi.CompletionFunc)
	h.active.Store(0)
	return errors.Join(eerr, h.loop.Close())
}

// Shutdown stops the loop, waits for Run to return and closes everything.
func (h *Hioload) Shutdown() error {
	h.Stop()
	h.runWG.Wait()
	return h.Close()
}

// Control returns the runtime configuration store.
func (h *Hioload) Control() api.Control { return h.store }

// Share returns the resolver cache given to handles from NewHandle.
func (h *Hioload) Share() *transfer.Share { return h.share }

// DumpState returns the output of every debug probe.
func (h *Hioload) DumpState() map[string]any { return h.probes.DumpState() }

// HealthHandler serves /live and /ready.
func (h *Hioload) HealthHandler() http.Handler { return h.health }

// MetricsHandler serves the engine collectors in the Prometheus format.
func (h *Hioload) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})
}
