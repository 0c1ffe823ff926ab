// Package app is the harvester's dependency container: it turns a loaded
// config.Config into the long-lived services every command shares and wires
// the per-run graph for a harvest.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/list-harvester/internal/api"
	"github.com/JakeFAU/list-harvester/internal/browser/headless"
	"github.com/JakeFAU/list-harvester/internal/clock/system"
	"github.com/JakeFAU/list-harvester/internal/config"
	"github.com/JakeFAU/list-harvester/internal/detector"
	"github.com/JakeFAU/list-harvester/internal/export"
	"github.com/JakeFAU/list-harvester/internal/extract"
	"github.com/JakeFAU/list-harvester/internal/harvest"
	iduuid "github.com/JakeFAU/list-harvester/internal/id/uuid"
	"github.com/JakeFAU/list-harvester/internal/journal"
	"github.com/JakeFAU/list-harvester/internal/metrics"
	"github.com/JakeFAU/list-harvester/internal/navigate"
	"github.com/JakeFAU/list-harvester/internal/notify"
	"github.com/JakeFAU/list-harvester/internal/orchestrator"
	"github.com/JakeFAU/list-harvester/internal/progress"
	"github.com/JakeFAU/list-harvester/internal/progress/sinks"
	"github.com/JakeFAU/list-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/list-harvester/internal/resume"
	"github.com/JakeFAU/list-harvester/internal/session"
	"github.com/JakeFAU/list-harvester/internal/storage"
	"github.com/JakeFAU/list-harvester/internal/storage/gcs"
	"github.com/JakeFAU/list-harvester/internal/storage/local"
	"github.com/JakeFAU/list-harvester/internal/storage/postgres"
	"github.com/JakeFAU/list-harvester/internal/store"
	"github.com/JakeFAU/list-harvester/internal/traverse"
)

const closeTimeout = 10 * time.Second

// Options overrides the process-bound collaborators. Zero values use the OS
// filesystem, a real Chrome, the terminal and the wall clock.
type Options struct {
	Fs       afero.Fs
	Driver   session.Driver
	Auth     session.Authenticator
	Stdin    io.Reader
	Stdout   io.Writer
	Clock    harvest.Clock
	Registry *prometheus.Registry
}

// Span is the inclusive page range of one harvest.
type Span struct {
	Start int
	End   int
}

// App holds the shared services built from configuration.
type App struct {
	cfg    config.Config
	opts   Options
	logger *zap.Logger

	state     *resume.Store
	journal   *journal.Journal
	exporter  *export.Writer
	artifacts storage.BlobStore
	notifier  harvest.Notifier

	registry    *prometheus.Registry
	promSink    *sinks.PrometheusSink
	httpMetrics *metrics.HTTP
	snapshots   *sinks.SnapshotSink

	publisher *pubsub.Publisher
	gcs       *gcstorage.Client
	ledger    *postgres.RunStore
}

// New builds every service the commands share. On failure anything already
// opened is released.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
		opts.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	a := &App{cfg: cfg, opts: opts, logger: logger, registry: opts.Registry}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.state = resume.NewStore(opts.Fs, cfg.State.Path, opts.Clock, logger)
	if a.journal, err = journal.Open(cfg.State.JournalDir); err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if a.exporter, err = export.New(opts.Fs, cfg.Export, logger); err != nil {
		return nil, fmt.Errorf("init exporter: %w", err)
	}
	if a.artifacts, err = a.buildArtifacts(ctx); err != nil {
		return nil, err
	}
	if a.notifier, err = a.buildNotifier(ctx); err != nil {
		return nil, err
	}

	if cfg.Ledger.DSN != "" {
		logger.Info("connecting run ledger")
		if a.ledger, err = postgres.NewRunStore(ctx, cfg.Ledger.Config); err != nil {
			return nil, fmt.Errorf("init run ledger: %w", err)
		}
		if err = a.ledger.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("run ledger schema: %w", err)
		}
	}

	if a.promSink, err = sinks.NewPrometheusSink(a.registry); err != nil {
		return nil, fmt.Errorf("init progress metrics: %w", err)
	}
	a.httpMetrics = metrics.NewHTTP(a.registry)
	a.snapshots = sinks.NewSnapshotSink()

	logger.Info("harvester services ready",
		zap.String("state_path", cfg.State.Path),
		zap.Strings("exports", a.exporter.Paths()),
		zap.Bool("ledger", a.ledger != nil),
	)
	return a, nil
}

func (a *App) buildArtifacts(ctx context.Context) (storage.BlobStore, error) {
	ac := a.cfg.Artifacts
	if !ac.Enabled {
		return storage.Discard{}, nil
	}
	switch ac.Backend {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.gcs = client
		bs, err := gcs.New(client, gcs.Config{Bucket: ac.GCSBucket, Prefix: ac.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs artifacts: %w", err)
		}
		a.logger.Info("artifacts go to gcs", zap.String("bucket", ac.GCSBucket))
		return bs, nil
	default:
		bs, err := local.New(a.opts.Fs, local.Config{BaseDir: ac.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local artifacts: %w", err)
		}
		return bs, nil
	}
}

func (a *App) buildNotifier(ctx context.Context) (harvest.Notifier, error) {
	nc := a.cfg.Notify
	targets := []harvest.Notifier{notify.NewLog(a.logger)}
	if nc.Console {
		targets = append(targets, notify.NewConsole(a.opts.Stdout, nc.Bell))
	}
	if nc.PubSub.ProjectID != "" {
		pub, err := pubsub.Dial(ctx, nc.PubSub)
		if err != nil {
			return nil, fmt.Errorf("init pubsub notifier: %w", err)
		}
		a.publisher = pub
		targets = append(targets, notify.NewTopic(pub, nc.Source, a.opts.Clock))
	}
	return notify.NewMulti(a.logger, targets...), nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// State returns the resume store.
func (a *App) State() *resume.Store { return a.state }

// Journal returns the record journal.
func (a *App) Journal() *journal.Journal { return a.journal }

// Snapshots returns the live run view fed by progress events.
func (a *App) Snapshots() *sinks.SnapshotSink { return a.snapshots }

// Harvest runs one orchestrated harvest over span.
func (a *App) Harvest(ctx context.Context, span Span) (orchestrator.Summary, error) {
	cfg := a.cfg
	runID, err := iduuid.NewRunID()
	if err != nil {
		return orchestrator.Summary{}, err
	}
	logger := a.logger.With(zap.String("run_id", runID.String()))

	hub := a.newHub(logger)
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := hub.Close(cctx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	if cfg.Server.Enabled {
		srvCtx, stop := context.WithCancel(ctx)
		defer stop()
		srv := api.NewServer(api.Deps{
			Snapshots:   a.snapshots,
			Runs:        a.runRepository(),
			Gatherer:    a.registry,
			HTTPMetrics: a.httpMetrics,
			Logger:      logger,
		})
		go func() {
			if err := srv.ListenAndServe(srvCtx, cfg.Server.Addr); err != nil {
				logger.Error("ops server stopped", zap.Error(err))
			}
		}()
	}

	classifier := detector.NewCheckpointClassifier(cfg.Detect.CheckpointConfig, logger)
	stuck := detector.NewStuckDetector(cfg.Detect.LoaderSelectors, logger)
	guard := navigate.NewGuard(cfg.Navigation.Config, stuck, logger)

	driver := a.opts.Driver
	if driver == nil {
		driver = headless.NewDriver(cfg.Browser.Config, logger)
	}
	auth := a.opts.Auth
	if auth == nil {
		auth = session.NewConsoleAuthenticator(a.opts.Stdin, a.opts.Stdout)
	}
	listMarker := config.ParseSelector(cfg.Site.ListReadySelector)
	sessions := session.NewManager(session.Config{
		ProfileDir:      cfg.Browser.ProfileDir,
		EntryURL:        cfg.Site.EntryURL,
		HealthURL:       cfg.Site.HealthURL,
		ListReadyMarker: listMarker,
		AuthReadyWait:   cfg.Navigation.AuthReadyWait,
		HealthTimeout:   cfg.Navigation.HealthTimeout,
		PollInterval:    cfg.Navigation.PollInterval,
		LoginPrompt:     cfg.Site.LoginPrompt,
	}, a.opts.Fs, driver, guard, classifier, auth, logger)

	extractor, err := extract.New(cfg.Extract, a.opts.Clock, logger)
	if err != nil {
		return orchestrator.Summary{}, fmt.Errorf("init extractor: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.Traverse.DetailRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Traverse.DetailRate), max(cfg.Traverse.DetailBurst, 1))
	}
	var detailMarker *harvest.Selector
	if cfg.Site.DetailReadySelector != "" {
		sel := config.ParseSelector(cfg.Site.DetailReadySelector)
		detailMarker = &sel
	}

	prog := harvest.NewProgress(span.Start, span.End)
	controller := traverse.NewController(traverse.Config{
		ListURL:           cfg.Site.ListURL,
		PageParam:         cfg.Site.PageParam,
		PageSize:          cfg.Run.PageSize,
		ListReadyMarker:   listMarker,
		DetailReadyMarker: detailMarker,
		ScrollSteps:       cfg.Traverse.ScrollSteps,
		ScrollDistance:    cfg.Traverse.ScrollDistance,
		ScrollPauseMin:    cfg.Traverse.ScrollPauseMin,
		ScrollPauseMax:    cfg.Traverse.ScrollPauseMax,
		Artifacts:         cfg.Artifacts.Enabled,
		Print: harvest.PrintOptions{
			Landscape:       cfg.Artifacts.Landscape,
			PrintBackground: cfg.Artifacts.PrintBackground,
		},
	}, traverse.Deps{
		Guard:      guard,
		Classifier: classifier,
		Extractor:  extractor,
		Exporter:   a.exporter,
		Checkpoint: a.state,
		Journal:    a.journal,
		Progress:   prog,
		Artifacts:  a.artifacts,
		Events:     hub,
		Limiter:    limiter,
		Clock:      a.opts.Clock,
		Logger:     logger,
		RunID:      runID,
	})

	orch := orchestrator.New(orchestrator.Config{
		StartPage:     span.Start,
		EndPage:       span.End,
		RestartBudget: cfg.Run.RestartBudget,
		Backoff: orchestrator.Backoff{
			Base: cfg.Run.RestartBackoffBase,
			Max:  cfg.Run.RestartBackoffMax,
		},
	}, orchestrator.Deps{
		Sessions:  sessions,
		Traverser: controller,
		State:     a.state,
		Journal:   a.journal,
		Exporter:  a.exporter,
		Notifier:  a.notifier,
		Progress:  prog,
		Events:    hub,
		Clock:     a.opts.Clock,
		Logger:    logger,
		RunID:     runID,
	})
	return orch.Run(ctx)
}

func (a *App) newHub(logger *zap.Logger) *progress.Hub {
	pc := a.cfg.Progress
	pc.Logger = logger
	targets := []progress.Sink{sinks.NewLogSink(logger), a.promSink, a.snapshots}
	if a.ledger != nil {
		targets = append(targets, sinks.NewStoreSink(a.ledger, logger))
	}
	return progress.NewHub(pc, targets...)
}

// runRepository returns the ledger as a repository, or a nil interface when
// no ledger is configured.
func (a *App) runRepository() store.RunRepository {
	if a.ledger == nil {
		return nil
	}
	return a.ledger
}

// ExportJournal rewrites the export tables from every journaled record.
func (a *App) ExportJournal(ctx context.Context) (int, error) {
	records, err := a.journal.All()
	if err != nil {
		return 0, fmt.Errorf("read journal: %w", err)
	}
	if err := a.exporter.WriteTable(ctx, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// ResetState forgets resume progress and journaled records.
func (a *App) ResetState() error {
	return errors.Join(a.state.Reset(), a.journal.Reset())
}

// Close releases every service. Safe on a partially built App.
func (a *App) Close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("journal close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.ledger != nil {
		a.ledger.Close()
	}
	_ = a.logger.Sync()
}
