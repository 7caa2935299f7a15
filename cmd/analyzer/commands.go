package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/xHacka/access-log-analyzer/internal/analysis"
)

func runLoad(ctx context.Context, a *app, args []string) error {
	flags := pflag.NewFlagSet("load", pflag.ContinueOnError)
	file := flags.StringP("file", "f", "", "access log to import")
	host := flags.String("host", "", "hostname the entries belong to")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("load: --file is required")
	}

	res, err := a.loader.LoadLogFile(ctx, *file, *host)
	if err != nil {
		return fmt.Errorf("load %s: %w", *file, err)
	}
	fmt.Printf("loaded %d entries for %s (%d skipped)\n", res.Parsed, res.Host.Hostname, res.Skipped)
	return nil
}

func runReport(ctx context.Context, a *app, args []string) error {
	flags := pflag.NewFlagSet("report", pflag.ContinueOnError)
	host := flags.String("host", "", "restrict the report to one hostname")
	withOrgs := flags.Bool("orgs", false, "resolve the organization of each top IP")
	if err := flags.Parse(args); err != nil {
		return err
	}

	res, err := a.analyzer.Analyze(ctx, analysis.Options{Host: *host, Limits: a.limits()})
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if *withOrgs {
		cache, closeDB := a.orgCache()
		defer closeDB()
		cache.Annotate(res.TopIPs)
	}
	return printJSON(res)
}

func runHosts(ctx context.Context, a *app, _ []string) error {
	hosts, err := a.analyzer.Hosts(ctx)
	if err != nil {
		return fmt.Errorf("hosts: %w", err)
	}
	return printJSON(hosts)
}

func runClear(ctx context.Context, a *app, _ []string) error {
	if err := a.analyzer.Clear(ctx); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	log.WithField("db", a.cfg.DBPath).Info("database cleared")
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
