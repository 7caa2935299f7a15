package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/xHacka/access-log-analyzer/internal/analysis"
	"github.com/xHacka/access-log-analyzer/internal/config"
	"github.com/xHacka/access-log-analyzer/internal/ingest"
	"github.com/xHacka/access-log-analyzer/internal/orgs"
	"github.com/xHacka/access-log-analyzer/internal/repository"
)

const usage = `usage: analyzer [--config FILE] <command> [flags]

commands:
  load    --file F --host H   import an access log for a host
  report  [--host H] [--orgs] print the report as JSON
  hosts                       list tracked hosts
  clear                       delete all hosts and entries
  serve                       run the HTTP API, configured sources and retention
  watch                       follow the configured sources only
`

type command func(ctx context.Context, app *app, args []string) error

var commands = map[string]command{
	"load":   runLoad,
	"report": runReport,
	"hosts":  runHosts,
	"clear":  runClear,
	"serve":  runServe,
	"watch":  runWatch,
}

// app holds the collaborators shared by every command.
type app struct {
	cfg      *config.Config
	repo     *repository.SQLiteRepository
	loader   *ingest.Loader
	analyzer *analysis.Analyzer
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("analyzer", pflag.ContinueOnError)
	flags.SetInterspersed(false)
	configPath := flags.StringP("config", "c", "config.yaml", "path to the YAML config file")
	flags.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	err := flags.Parse(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return fmt.Errorf("no command given")
	}
	name := flags.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		flags.Usage()
		return fmt.Errorf("unknown command %q", name)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	repo, err := repository.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer repo.Close()

	a := &app{
		cfg:      cfg,
		repo:     repo,
		loader:   ingest.NewLoader(repo),
		analyzer: analysis.New(repo),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return cmd(ctx, a, flags.Args()[1:])
}

func setupLogging(cfg *config.Config) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	log.SetLevel(level)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func (a *app) limits() analysis.Limits {
	l := a.cfg.Limits
	return analysis.Limits{
		UserAgents:    l.UserAgents,
		Pages:         l.Pages,
		Referrers:     l.Referrers,
		Errors:        l.Errors,
		IPs:           l.IPs,
		BandwidthDays: l.BandwidthDays,
	}
}

// orgCache opens the configured ASN database. Enrichment is optional, so a
// missing database only disables it.
func (a *app) orgCache() (*orgs.Cache, func()) {
	if a.cfg.GeoIPASNPath == "" {
		return nil, func() {}
	}
	resolver, err := orgs.OpenGeoIP(a.cfg.GeoIPASNPath)
	if err != nil {
		log.Warnf("geoip: %v, organization lookup disabled", err)
		return nil, func() {}
	}
	return orgs.NewCache(resolver), func() { resolver.Close() }
}
