// Package daemon is the composition root (spec §2 "Daemon shell" / SPEC_FULL
// §2.5): it wires store, authorizer, router, executor, schedulers, RPC
// server and channel adapters into one process, performs the bounded
// startup-recovery steps spec §4.1/§4.7 describe, and owns graceful
// shutdown. No package here holds a package-level singleton — everything
// is constructed once, here, and threaded down by parameter (spec §9).
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/hiboss/hiboss/internal/adapters"
	"github.com/hiboss/hiboss/internal/auth"
	"github.com/hiboss/hiboss/internal/bootstrap"
	"github.com/hiboss/hiboss/internal/channels/discord"
	"github.com/hiboss/hiboss/internal/channels/telegram"
	"github.com/hiboss/hiboss/internal/clock"
	"github.com/hiboss/hiboss/internal/config"
	"github.com/hiboss/hiboss/internal/cron"
	"github.com/hiboss/hiboss/internal/daemonlog"
	"github.com/hiboss/hiboss/internal/events"
	"github.com/hiboss/hiboss/internal/executor"
	"github.com/hiboss/hiboss/internal/media"
	"github.com/hiboss/hiboss/internal/model"
	"github.com/hiboss/hiboss/internal/provider"
	"github.com/hiboss/hiboss/internal/rpc"
	"github.com/hiboss/hiboss/internal/rpc/methods"
	"github.com/hiboss/hiboss/internal/router"
	"github.com/hiboss/hiboss/internal/scheduler"
	"github.com/hiboss/hiboss/internal/store"
	"github.com/hiboss/hiboss/internal/store/sqlite"
	"github.com/hiboss/hiboss/internal/telemetry"
)

// startupOrphanClearCap bounds clearOrphanChannelEnvelopes at boot (spec
// §4.1), the same order of magnitude as the scheduler's per-tick drain cap.
const startupOrphanClearCap = 500

// dbFileName and pidFileName live under <root>/.daemon (spec §6).
const (
	dbFileName  = "hiboss.db"
	pidFileName = "daemon.pid"
)

// Daemon is one fully-wired Hi-Boss process.
type Daemon struct {
	dataDir   string
	daemonDir string
	logger    *slog.Logger
	closeLog  func() error

	cfg   *config.LiveConfig
	store store.Store
	tel   *telemetry.Telemetry

	bus       *events.Bus
	adapters  *adapters.Registry
	rtr       *router.Router
	exec      *executor.AgentExecutor
	sched     *scheduler.EnvelopeScheduler
	cronSched *cron.CronScheduler
	authz     *auth.Authorizer
	rpcSrv    *rpc.Server
	media     *media.Resolver

	startedAtMs int64

	stopOnce sync.Once
	cancel   context.CancelFunc
}

// New constructs a Daemon rooted at dataDir: loads config, opens the
// store, and wires every component in dependency order. It does not yet
// bind the RPC socket or start background loops — call Run for that.
func New(dataDir string, clk clock.Clock) (*Daemon, error) {
	daemonDir := daemonSubdir(dataDir)
	if err := os.MkdirAll(daemonDir, 0o700); err != nil {
		return nil, fmt.Errorf("daemon: create %s: %w", daemonDir, err)
	}

	logger, closeLog, err := daemonlog.New(daemonDir)
	if err != nil {
		return nil, fmt.Errorf("daemon: init logging: %w", err)
	}

	fileCfg, err := config.Load(dataDir)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("daemon: load config: %w", err)
	}
	liveCfg := config.NewLive(fileCfg, logger)

	st, err := sqlite.Open(filepath.Join(daemonDir, dbFileName), sqlite.WithLogger(logger))
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("daemon: open store: %w", err)
	}

	tel, err := telemetry.New(context.Background(), fileCfg.MetricsAddr, "", "dev")
	if err != nil {
		_ = st.Close()
		closeLog()
		return nil, fmt.Errorf("daemon: init telemetry: %w", err)
	}

	bus := &events.Bus{}
	reg := adapters.NewRegistry()
	rtr := router.New(st, liveCfg, reg, bus, clk)

	mediaLocal := media.NewLocalStore(dataDir)
	var s3store media.Store
	if bucket := os.Getenv("HIBOSS_S3_BUCKET"); bucket != "" {
		s3, err := media.NewS3Store(context.Background(), bucket)
		if err != nil {
			logger.Warn("daemon: s3 media store unavailable, falling back to local", "error", err)
		} else {
			s3store = s3
		}
	}
	mediaResolver := media.NewResolver(mediaLocal, s3store)

	providers := provider.Registry{
		model.ProviderClaude: provider.NewClaude,
		model.ProviderCodex:  provider.NewCodex,
	}
	boot := bootstrap.New(dataDir)
	exec := executor.New(st, rtr, bus, providers, boot, clk, logger)
	rtr.SetCommandExecutor(exec)

	sched := scheduler.New(st, rtr, exec, clk, logger)
	bus.Subscribe(sched)

	cronSched := cron.New(st, rtr, clk, logger)
	bus.Subscribe(cronSched)

	authz, err := auth.New(st, liveCfg)
	if err != nil {
		_ = st.Close()
		closeLog()
		return nil, fmt.Errorf("daemon: init authorizer: %w", err)
	}

	d := &Daemon{
		dataDir:     dataDir,
		daemonDir:   daemonDir,
		logger:      logger,
		closeLog:    closeLog,
		cfg:         liveCfg,
		store:       st,
		tel:         tel,
		bus:         bus,
		adapters:    reg,
		rtr:         rtr,
		exec:        exec,
		sched:       sched,
		cronSched:   cronSched,
		authz:       authz,
		media:       mediaResolver,
		startedAtMs: clock.NowMillis(clk),
	}
	return d, nil
}

func daemonSubdir(dataDir string) string {
	return filepath.Join(dataDir, ".daemon")
}

// Run binds the RPC socket, performs startup recovery, starts every
// background loop, and blocks until ctx is cancelled. It always returns a
// nil error on a clean shutdown; Close has already run when Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer d.Close()

	mr := rpc.NewMethodRouter(d.authz, d.tel)
	d.registerMethods(mr, cancel)

	socketPath := filepath.Join(d.daemonDir, "daemon.sock")
	d.rpcSrv = rpc.New(socketPath, mr, d.logger)
	if err := d.rpcSrv.Listen(); err != nil {
		return fmt.Errorf("daemon: listen: %w", err)
	}

	if err := d.writePidFile(); err != nil {
		d.logger.Warn("daemon: write pid file failed", "error", err)
	}

	if err := d.recoverStartupState(runCtx); err != nil {
		d.logger.Error("daemon: startup recovery failed", "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.cfg.Watch(runCtx); err != nil {
			d.logger.Error("daemon: config watch exited", "error", err)
		}
	}()

	d.sched.Start(runCtx)

	d.logger.Info("hiboss daemon started", "dataDir", d.dataDir, "socket", socketPath)

	err := d.rpcSrv.Serve(runCtx)
	d.sched.Stop()
	wg.Wait()
	return err
}

// registerMethods binds every rpc.Register call the daemon exposes (spec
// §4.8), one *Methods type per domain, mirroring the teacher's
// registerAllMethods shape in cmd/gateway_methods.go.
func (d *Daemon) registerMethods(mr *rpc.MethodRouter, shutdown func()) {
	methods.NewSetupMethods(d.store).Register(mr)
	methods.NewAgentMethods(d.store, d.exec, clock.System{}).Register(mr)
	methods.NewEnvelopeMethods(d.store, d.rtr, clock.System{}).Register(mr)
	methods.NewCronMethods(d.store, d.cronSched).Register(mr)
	methods.NewReactionMethods(d.store, d.adapters).Register(mr)
	methods.NewDaemonMethods(d.store, d.exec, d.sched, clock.System{}, d.startedAtMs, func() {
		d.logger.Info("daemon: stop requested over rpc")
		shutdown()
	}).Register(mr)
}

// recoverStartupState implements the bounded recovery every restart needs
// because nothing survives process death except the store (spec §4.1,
// §4.7): re-register every agent's in-memory handler, reload channel
// adapters from persisted bindings, reconcile cron schedules, and clear
// orphaned channel envelopes.
func (d *Daemon) recoverStartupState(ctx context.Context) error {
	agentsList, err := d.store.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	for _, a := range agentsList {
		d.exec.RegisterAgent(a.Name)
	}

	if err := d.loadChannelAdapters(ctx); err != nil {
		d.logger.Error("daemon: load channel adapters failed", "error", err)
	}

	if err := d.cronSched.ReconcileAllSchedules(ctx, true); err != nil {
		d.logger.Error("daemon: reconcile cron schedules failed", "error", err)
	}

	bindings, err := d.store.ListBindings(ctx)
	if err != nil {
		return fmt.Errorf("list bindings: %w", err)
	}
	bindingExists := func(adapterType, agentName string) bool {
		for _, b := range bindings {
			if b.AdapterType == adapterType && b.AgentName == agentName {
				return true
			}
		}
		return false
	}
	nowMs := clock.NowMillis(clock.System{})
	cleared, err := d.store.ClearOrphanChannelEnvelopes(ctx, nowMs, startupOrphanClearCap, bindingExists)
	if err != nil {
		return fmt.Errorf("clear orphan channel envelopes: %w", err)
	}
	if cleared > 0 {
		d.logger.Info("daemon: cleared orphan channel envelopes at startup", "count", cleared)
	}
	return nil
}

// loadChannelAdapters starts one ChannelAdapter instance per distinct
// (adapterType, adapterToken) pair found across all stored bindings (spec
// §3: the adapter token is the platform bot credential, shared by every
// agent bound to it).
func (d *Daemon) loadChannelAdapters(ctx context.Context) error {
	bindings, err := d.store.ListBindings(ctx)
	if err != nil {
		return fmt.Errorf("list bindings: %w", err)
	}

	type key struct{ adapterType, token string }
	seen := map[key]bool{}

	for _, b := range bindings {
		k := key{b.AdapterType, b.AdapterToken}
		if seen[k] {
			continue
		}
		seen[k] = true

		var a adapters.ChannelAdapter
		var buildErr error
		switch b.AdapterType {
		case "telegram":
			a, buildErr = telegram.New(b.AdapterToken, d.rtr, d.media)
		case "discord":
			a, buildErr = discord.New(b.AdapterToken, d.rtr, d.media)
		default:
			d.logger.Warn("daemon: unknown adapter type in bindings, skipping", "adapterType", b.AdapterType)
			continue
		}
		if buildErr != nil {
			d.logger.Error("daemon: construct channel adapter failed", "adapterType", b.AdapterType, "error", buildErr)
			continue
		}
		if err := a.Start(ctx); err != nil {
			d.logger.Error("daemon: start channel adapter failed", "adapterType", b.AdapterType, "error", err)
			continue
		}
		d.adapters.Load(b.AdapterType, b.AdapterToken, a)
		d.logger.Info("daemon: channel adapter started", "adapterType", b.AdapterType)
	}
	return nil
}

func (d *Daemon) writePidFile() error {
	path := filepath.Join(d.daemonDir, pidFileName)
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// Close stops the RPC server (if listening), every loaded channel
// adapter, telemetry, and the store, then closes the log file. Safe to
// call multiple times; only the first call does anything.
func (d *Daemon) Close() {
	d.stopOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
		if d.rpcSrv != nil {
			_ = d.rpcSrv.Close()
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, a := range d.adapters.All() {
			if err := a.Stop(stopCtx); err != nil {
				d.logger.Warn("daemon: stop channel adapter failed", "error", err)
			}
		}

		if err := d.tel.Shutdown(stopCtx); err != nil {
			d.logger.Warn("daemon: telemetry shutdown failed", "error", err)
		}
		if err := d.store.Close(); err != nil {
			d.logger.Warn("daemon: close store failed", "error", err)
		}
		_ = os.Remove(filepath.Join(d.daemonDir, pidFileName))
		if d.closeLog != nil {
			_ = d.closeLog()
		}
	})
}
