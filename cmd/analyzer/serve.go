package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/xHacka/access-log-analyzer/internal/handlers"
	"github.com/xHacka/access-log-analyzer/internal/ingest"
)

const retentionInterval = 6 * time.Hour

func runServe(ctx context.Context, a *app, _ []string) error {
	cache, closeDB := a.orgCache()
	defer closeDB()

	srv := &http.Server{
		Addr: a.cfg.Listen,
		Handler: handlers.NewRouter(handlers.Deps{
			Analyzer: a.analyzer,
			Loader:   a.loader,
			Limits:   a.limits(),
			Orgs:     cache,

			MaxUploadBytes: a.cfg.MaxUploadBytes,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("listening on %s", a.cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		a.retain(ctx)
		return nil
	})
	for _, f := range a.followers() {
		g.Go(func() error {
			// A broken source must not take the API down.
			if err := f.Run(ctx); err != nil {
				log.WithField("path", f.Source.Path).Errorf("source: %v", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func runWatch(ctx context.Context, a *app, _ []string) error {
	followers := a.followers()
	if len(followers) == 0 {
		return fmt.Errorf("watch: no sources configured")
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, f := range followers {
		g.Go(func() error {
			if err := f.Run(ctx); err != nil {
				return fmt.Errorf("%s: %w", f.Source.Path, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (a *app) followers() []*ingest.Follower {
	var out []*ingest.Follower
	for _, src := range a.cfg.Sources {
		out = append(out, ingest.NewFollower(a.loader, ingest.Source{
			Path:     src.Path,
			Hostname: src.Hostname,
			Follow:   src.Follow,
		}))
	}
	return out
}

// retain deletes entries older than retention_days, once at start and then
// periodically, until ctx is done.
func (a *app) retain(ctx context.Context) {
	if a.cfg.RetentionDays <= 0 {
		return
	}
	prune := func() {
		cutoff := time.Now().Add(-time.Duration(a.cfg.RetentionDays) * 24 * time.Hour)
		n, err := a.repo.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			log.Errorf("retention: %v", err)
			return
		}
		log.WithFields(log.Fields{"deleted": n, "cutoff": cutoff.UTC().Format(time.RFC3339)}).Info("retention pass complete")
	}

	prune()
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
