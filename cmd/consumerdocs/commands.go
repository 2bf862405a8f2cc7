package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"consumerdocs/application/docs"
	"consumerdocs/infrastructure/config"
)

// docsFactory builds the documentation service for a configuration
type docsFactory func(ctx context.Context, cfg *config.Config) (*docs.Service, func(), error)

type cli struct {
	stdout  io.Writer
	stderr  io.Writer
	newDocs docsFactory
}

// storeFlags are shared by every command that reads the store
type storeFlags struct {
	service string
	table   string
	region  string
	store   string
	output  string
}

func (f *storeFlags) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.service, "service", "", "service name (default $SERVICE_NAME)")
	flagSet.StringVar(&f.table, "table", "", "DynamoDB table (default $TABLE_NAME)")
	flagSet.StringVar(&f.region, "region", "", "AWS region (default $AWS_REGION)")
	flagSet.StringVar(&f.store, "store", "", "store backend: dynamodb, badger or memory (default $STORE_BACKEND)")
	flagSet.StringVarP(&f.output, "output", "o", docs.DefaultOutputPath, "markdown file to update")
}

// apply overlays the flags that were set onto cfg
func (f *storeFlags) apply(cfg *config.Config) {
	if f.service != "" {
		cfg.ServiceName = f.service
	}
	if f.table != "" {
		cfg.TableName = f.table
	}
	if f.region != "" {
		cfg.AWSRegion = f.region
	}
	if f.store != "" {
		cfg.StoreBackend = f.store
	}
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		c.printUsage()
		return errors.New("missing command")
	}

	switch args[0] {
	case "sync":
		return c.runSync(ctx, args[1:])
	case "hook":
		c.runHook(ctx, args[1:])
		return nil
	case "version", "--version":
		fmt.Fprintf(c.stdout, "consumerdocs %s\n", version)
		return nil
	case "help", "-h", "--help":
		c.printUsage()
		return nil
	default:
		c.printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (c *cli) runSync(ctx context.Context, args []string) error {
	var flags storeFlags
	var dryRun bool
	var format string

	flagSet := pflag.NewFlagSet("sync", pflag.ContinueOnError)
	flagSet.SetOutput(c.stderr)
	flags.addFlags(flagSet)
	flagSet.BoolVar(&dryRun, "dry-run", false, "print the section instead of writing it")
	flagSet.StringVar(&format, "format", "markdown", "dry-run output format: markdown or html")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if format != "markdown" && format != "html" {
		return fmt.Errorf("unknown format %q", format)
	}
	if format == "html" && !dryRun {
		return errors.New("--format html requires --dry-run")
	}

	cfg, err := c.loadConfig(&flags)
	if err != nil {
		return err
	}
	if cfg.ServiceName == "" {
		return errors.New("--service or SERVICE_NAME is required")
	}

	service, cleanup, err := c.newDocs(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := service.Sync(ctx, docs.SyncOptions{
		ServiceName: cfg.ServiceName,
		OutputPath:  flags.output,
		DryRun:      dryRun,
	})
	if err != nil {
		return err
	}

	switch {
	case result.Records == 0:
		fmt.Fprintf(c.stdout, "No data found for service '%s'\n", cfg.ServiceName)
	case dryRun && format == "html":
		html, err := docs.RenderHTML(result.Section)
		if err != nil {
			return err
		}
		fmt.Fprint(c.stdout, html)
	case dryRun:
		fmt.Fprintln(c.stdout, result.Section)
	default:
		fmt.Fprintf(c.stdout, "Updated %s (%d endpoint(s) from %d record(s))\n",
			flags.output, result.Endpoints, result.Records)
	}
	return nil
}

// runHook never fails: a broken sync must not block the editor that runs it
func (c *cli) runHook(ctx context.Context, args []string) {
	var flags storeFlags
	var cacheMinutes int
	var stampPath string

	flagSet := pflag.NewFlagSet("hook", pflag.ContinueOnError)
	flagSet.SetOutput(c.stderr)
	flags.addFlags(flagSet)
	flagSet.IntVar(&cacheMinutes, "cache-minutes", docs.DefaultCacheMinutes, "skip the sync when the last one is newer than this")
	flagSet.StringVar(&stampPath, "stamp", docs.DefaultStampPath, "file holding the time of the last sync")
	if err := flagSet.Parse(args); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			c.hookFailed(err)
		}
		return
	}

	cfg, err := c.loadConfig(&flags)
	if err != nil {
		c.hookFailed(err)
		return
	}
	if cfg.ServiceName == "" {
		return
	}

	service, cleanup, err := c.newDocs(ctx, cfg)
	if err != nil {
		c.hookFailed(err)
		return
	}
	defer cleanup()

	if _, err := service.Hook(ctx, docs.HookOptions{
		ServiceName:  cfg.ServiceName,
		OutputPath:   flags.output,
		StampPath:    stampPath,
		CacheMinutes: cacheMinutes,
	}); err != nil {
		c.hookFailed(err)
	}
}

func (c *cli) hookFailed(err error) {
	fmt.Fprintf(c.stderr, "consumerdocs hook: sync failed (non-fatal): %v\n", err)
}

// loadConfig reads the environment and applies flag overrides. The CLI logs
// at warn unless LOG_LEVEL asks otherwise.
func (c *cli) loadConfig(flags *storeFlags) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	flags.apply(cfg)
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.LogLevel = "warn"
	}
	return cfg, cfg.Validate()
}

func (c *cli) printUsage() {
	fmt.Fprint(c.stderr, `consumerdocs keeps a markdown file updated with the live consumers of an API.

Usage:
  consumerdocs sync [flags]   write the consumer section now
  consumerdocs hook [flags]   sync when the last sync is stale; never fails
  consumerdocs version        print the version

Run "consumerdocs <command> --help" for the flags of a command.
`)
}
