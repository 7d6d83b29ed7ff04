package stashdav

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/stashdav/stashdav/internal/config"
	"github.com/stashdav/stashdav/internal/logger"
	"github.com/stashdav/stashdav/pkg/blob"
	"github.com/stashdav/stashdav/pkg/dav"
	"github.com/stashdav/stashdav/pkg/engine"
	"github.com/stashdav/stashdav/pkg/maintenance"
	"github.com/stashdav/stashdav/pkg/quota"
	"github.com/stashdav/stashdav/pkg/server"
	"github.com/stashdav/stashdav/pkg/session"
	"github.com/stashdav/stashdav/pkg/store"
	"github.com/stashdav/stashdav/pkg/trash"
)

// App bundles the wired services so the serve loop and the admin commands
// share one construction path.
type App struct {
	Store    *store.Store
	Blobs    blob.Store
	Quota    *quota.Engine
	Files    *engine.Engine
	Trash    *trash.Engine
	Sessions *session.Manager
	Maint    *maintenance.Service
}

func newBlobStore(cfg *config.Config) (blob.Store, error) {
	if cfg.S3.Backend == "memory" {
		return blob.NewMemory(), nil
	}
	return blob.NewS3(cfg.S3)
}

// Build opens the stores and wires the engines together. The store's delete
// hook ties record purges to blob removal.
func Build() (*App, error) {
	cfg := config.Get()
	logger.Init(cfg.Path, cfg.LogLevel)

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}
	blobs, err := newBlobStore(cfg)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("opening blob store: %w", err)
	}
	s.OnDelete(func(ctx context.Context, key string) {
		_ = blobs.Delete(ctx, key)
	})

	q := quota.New(s, cfg.DefaultQuotaBytes)
	files := engine.New(s, blobs, q)
	tr := trash.New(s, files, q, cfg.TrashRetentionDays)
	sessions := session.New(s, cfg.WebdavSessionLimit, time.Duration(cfg.WebdavSessionTimeout)*time.Second)

	grace, err := time.ParseDuration(cfg.Maintenance.ReaperGracePeriod)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("invalid reaper grace period: %w", err)
	}
	reaper := maintenance.NewReaper(s, blobs, grace)
	maint := maintenance.New(tr, reaper, sessions, cfg)

	return &App{
		Store:    s,
		Blobs:    blobs,
		Quota:    q,
		Files:    files,
		Trash:    tr,
		Sessions: sessions,
		Maint:    maint,
	}, nil
}

func (a *App) Close() error {
	return a.Store.Close()
}

func Start(ctx context.Context) error {
	cfg := config.Get()
	_log := logger.Default()

	app, err := Build()
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			_log.Error().Err(err).Msg("Error closing stores")
		}
	}()

	davHandler := dav.NewHandler(cfg.URLBase, app.Store, app.Files, app.Trash)
	auth := dav.NewAuth(app.Store, app.Sessions, cfg.AuthRealm)

	handlers := map[string]http.Handler{
		"/": auth.Middleware(davHandler),
	}
	srv := server.New(app.Store, handlers)

	return startServices(ctx, srv, app.Maint)
}

func startServices(ctx context.Context, srv *server.Server, maint *maintenance.Service) error {
	var wg sync.WaitGroup
	errChan := make(chan error)

	_log := logger.Default()

	svcCtx, cancelSvc := context.WithCancel(ctx)
	defer cancelSvc()

	safeGo := func(f func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					stack := debug.Stack()
					_log.Error().
						Interface("panic", r).
						Str("stack", string(stack)).
						Msg("Recovered from panic in goroutine")

					// Send error to channel so the main goroutine is aware
					errChan <- fmt.Errorf("panic: %v", r)
				}
			}()

			if err := f(); err != nil {
				errChan <- err
			}
		}()
	}

	safeGo(func() error {
		return srv.Start(svcCtx)
	})

	safeGo(func() error {
		return maint.Start(svcCtx)
	})

	go func() {
		wg.Wait()
		close(errChan)
	}()

	go func() {
		for err := range errChan {
			if err != nil {
				_log.Error().Err(err).Msg("Service error detected")
				if svcCtx.Err() == nil {
					_log.Error().Msg("Stopping services due to error")
					cancelSvc()
				}
			}
		}
	}()

	<-svcCtx.Done()
	_log.Debug().Msg("Services context cancelled")
	return nil
}
