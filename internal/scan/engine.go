// Package scan orchestrates a scan run: it pulls targets from the
// enumerator, admits workers through the governor-controlled gate, runs
// probe handshakes and hands classified services to the result store.
package scan

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/Y0oshi/deepfocus/internal/config"
	"github.com/Y0oshi/deepfocus/internal/enumerate"
	"github.com/Y0oshi/deepfocus/internal/errors"
	"github.com/Y0oshi/deepfocus/internal/fingerprint"
	"github.com/Y0oshi/deepfocus/internal/governor"
	"github.com/Y0oshi/deepfocus/internal/logging"
	"github.com/Y0oshi/deepfocus/internal/metrics"
	"github.com/Y0oshi/deepfocus/internal/probe"
)

// ResultSink receives classified services as they are found.
type ResultSink interface {
	SaveResult(ctx context.Context, result *probe.Result) error
}

// Engine runs scans. One scan at a time; starting a second fails until
// the first finishes or is stopped.
type Engine struct {
	cfg    *config.Config
	sink   ResultSink
	logger *logging.Logger

	dispatcher *probe.Dispatcher
	fp         *fingerprint.Engine
	resolver   *Resolver

	// OnResult is called for every saved result; the websocket live feed
	// hooks in here. Must not block.
	OnResult func(*probe.Result)

	// OnComplete is called once per scan after workers drain, with the
	// final session snapshot. The export-on-finish path hooks in here.
	OnComplete func(Progress)

	mu       sync.Mutex
	session  *Session
	gate     *Gate
	governor *governor.Governor
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewEngine builds a scan engine over the given configuration and sink.
func NewEngine(cfg *config.Config, sink ResultSink, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewDefault().WithComponent("scan")
	}
	e := &Engine{
		cfg:        cfg,
		sink:       sink,
		logger:     logger,
		dispatcher: probe.NewDispatcher(),
		fp:         fingerprint.NewEngine(),
	}
	if cfg.Scanning.EnableReverseDNS {
		e.resolver = NewResolver(cfg.Scanning.Resolver)
	}
	return e
}

// Start launches a scan over the source. It returns immediately with the
// session; progress is observed via Status or the session itself.
func (e *Engine) Start(ctx context.Context, source enumerate.Source, network string) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil && (e.session.State() == SessionRunning || e.session.State() == SessionStopping) {
		return nil, errors.NewConfigError(errors.CodeConfiguration, "a scan is already running")
	}

	session := NewSession(network, source.Total())
	session.setState(SessionRunning)

	// scanCtx gates dispatch and is canceled on Stop; probeCtx covers
	// probe I/O and only ends with the parent, so a stop lets in-flight
	// probes finish or time out naturally instead of hard-killing them
	scanCtx, cancel := context.WithCancel(ctx)
	probeCtx, probeCancel := context.WithCancel(ctx)
	gate := NewGate(e.cfg.Scanning.ThreadCount)

	gov := governor.New(e.cfg.Governor, e.cfg.Scanning.PowerLevel,
		e.cfg.Scanning.ThreadCount, nil, e.logger)
	gov.OnChange = func(state governor.State, concurrency int) {
		gate.Resize(concurrency)
	}

	e.session = session
	e.gate = gate
	e.governor = gov
	e.cancel = cancel
	e.done = make(chan struct{})

	go gov.Run(scanCtx)

	workers := e.cfg.Scanning.ThreadCount
	dialer := probe.NewDialer(e.cfg.Scanning.StepTimeout, e.cfg.Scanning.ProbeTimeout)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.worker(scanCtx, probeCtx, dialer, source, session, gate)
		}()
	}

	go func() {
		wg.Wait()
		cancel()
		probeCancel()
		if session.State() == SessionStopping {
			session.setState(SessionStopped)
		} else {
			session.setState(SessionComplete)
		}
		e.logger.Info("Scan finished",
			"session_id", session.ID,
			"state", session.State(),
			"completed", session.Completed(),
			"found", session.Found(),
			"errors", session.Errors())
		if e.OnComplete != nil {
			e.OnComplete(session.Snapshot())
		}
		close(e.done)
	}()

	e.logger.Info("Scan started",
		"session_id", session.ID,
		"network", network,
		"targets", source.Total(),
		"workers", workers,
		"power", e.cfg.Scanning.PowerLevel)

	return session, nil
}

// Stop requests a graceful stop and waits for workers to drain. Dispatch
// ceases immediately but in-flight probes run to their own timeouts, so
// their results still land in the store; worst-case stop latency is one
// probe timeout.
func (e *Engine) Stop() {
	e.mu.Lock()
	session := e.session
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	if session == nil || (session.State() != SessionRunning && session.State() != SessionStopping) {
		return
	}

	session.setState(SessionStopping)
	cancel()
	<-done
}

// Wait blocks until the current scan finishes.
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status returns the current session progress, or an idle snapshot when
// no scan has run.
func (e *Engine) Status() Progress {
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()

	if session == nil {
		return Progress{State: SessionIdle}
	}
	return session.Snapshot()
}

// GovernorStatus exposes the active governor snapshot for the API.
func (e *Engine) GovernorStatus() governor.Status {
	e.mu.Lock()
	gov := e.governor
	e.mu.Unlock()

	if gov == nil {
		return governor.Status{State: governor.StateNormal}
	}
	return gov.Snapshot()
}

func (e *Engine) worker(scanCtx, probeCtx context.Context, dialer *probe.Dialer, source enumerate.Source, session *Session, gate *Gate) {
	for {
		if scanCtx.Err() != nil {
			return
		}
		target, ok := source.Next()
		if !ok {
			return
		}

		if err := gate.Acquire(scanCtx); err != nil {
			return
		}
		e.probeTarget(probeCtx, dialer, target, session)
		gate.Release()
	}
}

func (e *Engine) probeTarget(ctx context.Context, dialer *probe.Dialer, target enumerate.Target, session *Session) {
	defer session.addCompleted()

	pt := probe.Target{IP: target.IP, Port: target.Port}

	result, err := e.dispatcher.Run(ctx, dialer, pt)
	if err != nil && errors.IsRetryable(err) && ctx.Err() == nil {
		// transient timeouts get exactly one more attempt
		session.addRetry()
		result, err = e.dispatcher.Run(ctx, dialer, pt)
	}

	switch {
	case err == nil:
		e.handleResult(ctx, result, session)

	case errors.IsNegative(err):
		// refused means no service; nothing to record

	case errors.IsCode(err, errors.CodeCanceled):
		// shutdown in progress

	case errors.IsCode(err, errors.CodeTimeout):
		// still silent after the retry; record the target as unreachable
		// so repeat scans can tell filtered ports from never-probed ones
		metrics.IncrementProbeErrors("tcp", "timeout")
		e.recordUnreachable(ctx, pt, session)

	default:
		session.addError()
		metrics.IncrementProbeErrors("tcp", "io")
		e.logger.Debug("Probe failed", "target", pt.Addr(), "error", err)
	}
}

// recordUnreachable persists a tombstone row for a target that timed out
// twice. Unreachable rows never appear in exports and are pruned by the
// maintenance job once stale.
func (e *Engine) recordUnreachable(ctx context.Context, pt probe.Target, session *Session) {
	result := &probe.Result{
		IP:       pt.IP.String(),
		Port:     pt.Port,
		Protocol: probe.ProtocolUnknown,
		Service:  string(probe.ProtocolUnknown),
		Auth:     probe.AuthUnknown,
		State:    probe.StateUnreachable,
		SeenAt:   time.Now().UTC(),
	}
	if err := e.sink.SaveResult(ctx, result); err != nil {
		session.addError()
		e.logger.ErrorStore("Failed to persist unreachable record", err,
			"ip", result.IP, "port", result.Port)
	}
}

func (e *Engine) handleResult(ctx context.Context, result *probe.Result, session *Session) {
	e.fp.Enrich(result)

	if e.resolver != nil {
		result.Hostname = e.resolver.Reverse(ctx, net.ParseIP(result.IP))
	}

	metrics.IncrementProbesTotal(string(result.Protocol), result.State)
	metrics.RecordProbeDuration(string(result.Protocol), result.RTT)

	if err := e.sink.SaveResult(ctx, result); err != nil {
		session.addError()
		e.logger.ErrorStore("Failed to persist result", err,
			"ip", result.IP, "port", result.Port)
		return
	}

	session.addFound()
	e.logger.InfoProbe("Service found",
		net.JoinHostPort(result.IP, strconv.Itoa(result.Port)),
		"service", result.Service,
		"auth", result.Auth)

	if e.OnResult != nil {
		e.OnResult(result)
	}
}
