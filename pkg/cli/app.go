package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/harrisonrobin/calsync/pkg/actions"
	"github.com/harrisonrobin/calsync/pkg/auth"
	"github.com/harrisonrobin/calsync/pkg/config"
	"github.com/harrisonrobin/calsync/pkg/google"
	"github.com/harrisonrobin/calsync/pkg/kv"
	"github.com/harrisonrobin/calsync/pkg/logger"
	"github.com/harrisonrobin/calsync/pkg/model"
	"github.com/harrisonrobin/calsync/pkg/netwatch"
	"github.com/harrisonrobin/calsync/pkg/queue"
	"github.com/harrisonrobin/calsync/pkg/store"
	"github.com/harrisonrobin/calsync/pkg/syncer"
)

// app is the per-invocation state shared by all commands.
type app struct {
	out    io.Writer
	errOut io.Writer

	configPath string
	verbose    bool
	offline    bool

	cfg *config.Config
	loc *time.Location

	kv      kv.Store
	store   *store.Store
	queue   *queue.Queue
	tokens  *auth.Provider
	remote  *google.Adapter
	session *session
	engine  *syncer.Engine
	actions *actions.Service
	prober  netwatch.Prober

	closers []io.Closer
	logFile io.Closer
	now     func() time.Time
}

// loadConfig reads the configuration and sets up logging.
func (a *app) loadConfig() error {
	if a.cfg != nil {
		return nil
	}
	if a.configPath == "" {
		path, err := config.Path()
		if err != nil {
			return fmt.Errorf("could not find path to configuration file: %w", err)
		}
		a.configPath = path
	}
	cfg, err := config.LoadFrom(a.configPath)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	a.cfg, a.loc = cfg, loc
	if a.now == nil {
		a.now = time.Now
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	if a.verbose {
		level = logger.LevelDebug
	}
	logger.SetLevel(level)
	if cfg.Log.File != "" {
		a.logFile = logger.UseFile(logger.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
	}
	return nil
}

// open builds the storage, remote and sync stack.
func (a *app) open(ctx context.Context) error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	defer logger.Timer("open")()

	if err := os.MkdirAll(filepath.Dir(a.cfg.Storage.Path), 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := kv.Open(a.cfg.Storage.Backend, a.cfg.Storage.Path)
	if err != nil {
		return err
	}
	a.kv = db
	a.closers = append(a.closers, db)

	if a.store, err = store.Open(ctx, db, logger.New("store")); err != nil {
		return err
	}
	if a.queue, err = queue.Open(ctx, db, logger.New("queue")); err != nil {
		return err
	}

	a.tokens = auth.NewProvider(filepath.Dir(a.configPath), logger.New("auth"))
	a.session = &session{tokens: a.tokens, kv: db, calendar: a.cfg.Calendar}
	link, err := loadLink(ctx, db)
	if err != nil {
		logger.Warnf("%v", err)
	}

	srv, err := google.NewService(ctx, nil)
	if err != nil {
		return err
	}
	a.remote = google.NewAdapter(srv, a.tokens, google.Options{
		CalendarID: link.ID,
		Location:   a.loc,
		Logger:     logger.New("google"),
	})

	a.engine = syncer.New(ctx, a.store, a.queue, a.remote, a.session, db, a.engineOptions())
	a.actions = actions.New(a.store, a.engine, logger.New("actions"))
	a.prober = netwatch.HTTPProber{URL: a.cfg.Sync.ProbeURL}
	return nil
}

func (a *app) engineOptions() syncer.Options {
	s := a.cfg.Sync
	opts := syncer.DefaultOptions()
	opts.Policy.MaxRetries = s.MaxRetries
	opts.Enabled = s.Enabled
	opts.PullAll = s.PullAll
	opts.WindowPast = time.Duration(s.WindowPastDays) * 24 * time.Hour
	opts.WindowFuture = time.Duration(s.WindowFutureDays) * 24 * time.Hour
	opts.AutoDebounce = s.AutoDebounce.D()
	opts.PendingRefresh = s.PendingRefresh.D()
	opts.Interval = s.Interval.D()
	opts.Logger = logger.New("sync")
	opts.Notifier = syncer.NotifierFunc(a.notify)
	opts.Now = a.now
	return opts
}

func (a *app) notify(n syncer.Notification) {
	fmt.Fprintln(a.errOut, renderNotification(n))
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.logFile != nil {
		logger.SetOutput(os.Stderr)
		errs = append(errs, a.logFile.Close())
		a.logFile = nil
	}
	return errors.Join(errs...)
}

// online probes connectivity unless --offline was given.
func (a *app) online(ctx context.Context) bool {
	if a.offline {
		return false
	}
	return a.prober.Probe(ctx)
}

// push tries to send queued changes right after a local mutation. Failures
// leave the changes queued for the next sync.
func (a *app) push(ctx context.Context) {
	if !a.engine.Permitted() || !a.online(ctx) {
		if n := a.queue.Len(); n > 0 && a.engine.Permitted() {
			fmt.Fprintln(a.out, faintStyle.Render(fmt.Sprintf("%d change(s) queued for the next sync", n)))
		}
		return
	}
	counts, err := a.engine.Flush(ctx, model.Notify)
	if err != nil {
		switch {
		case errors.Is(err, syncer.ErrUnauthorized):
			a.notify(syncer.Notification{Level: syncer.LevelError, Message: "Google Calendar rejected the stored credentials; run: calsync auth"})
		case errors.Is(err, syncer.ErrBusy):
			fmt.Fprintln(a.out, faintStyle.Render("Another calsync process is syncing; the change is queued for it"))
		}
		return
	}
	logger.Debugf("push: %+v", counts)
	if counts.Retrying > 0 {
		fmt.Fprintln(a.out, faintStyle.Render(fmt.Sprintf("%d change(s) will be retried", counts.Retrying)))
	}
}
