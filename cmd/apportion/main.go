package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/politicai/apportion/pkg/apportion"
	"github.com/politicai/apportion/pkg/config"
	"github.com/politicai/apportion/pkg/geounit"
	"github.com/politicai/apportion/pkg/logging"
	"github.com/politicai/apportion/pkg/models"
	"github.com/politicai/apportion/pkg/runstore"
	"github.com/politicai/apportion/pkg/scheduler"
	"github.com/politicai/apportion/pkg/sink"
	"github.com/politicai/apportion/pkg/tabular"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitPartial = 2
)

const usage = `Usage: apportion <command> [flags]

Commands:
  run       compute the constituency composition and write it
  schedule  run on a cron schedule until interrupted
  geounits  seed the state, district and constituency hierarchy
  runs      list recorded runs
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(exitFailed)
	}
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(exitFailed)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var code int
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		code = runCommand(ctx, args)
	case "schedule":
		code = scheduleCommand(ctx, args)
	case "geounits":
		code = geoUnitsCommand(ctx, args)
	case "runs":
		code = runsCommand(ctx, args)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n%s", cmd, usage)
		code = exitFailed
	}
	stop()
	os.Exit(code)
}

func runCommand(ctx context.Context, args []string) int {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "apportion.yaml", "Run configuration file")
	dryRun := flags.Bool("dry-run", false, "Compute and print the summary without writing")
	showUnmatched := flags.Bool("unmatched", false, "List unmatched sub-district names")
	if err := flags.Parse(args); err != nil {
		return exitFailed
	}

	cfg, logger, err := loadRunConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailed
	}

	opts := []apportion.Option{apportion.WithLogger(logger)}
	var store *runstore.Store
	if cfg.RunStore != "" && !*dryRun {
		if store, err = runstore.Open(cfg.RunStore); err != nil {
			logger.Error("Failed to open run store", err)
			return exitFailed
		}
		defer store.Close()
		opts = append(opts, apportion.WithRunRecorder(store))
	}

	engine := apportion.NewEngine(cfg, opts...)
	var report *apportion.Report
	if *dryRun {
		report, err = engine.Compute(ctx)
	} else {
		report, err = engine.Run(ctx)
	}
	if err != nil {
		logger.Error("Apportionment failed", err)
		return exitFailed
	}

	printSummary(os.Stdout, report, *dryRun)
	printSinkFailures(os.Stdout, report.SinkFailures)
	printUnlinked(os.Stdout, report.Unlinked)
	if *showUnmatched {
		printUnmatched(os.Stdout, report.Unmatched)
	}
	if report.Margins != nil {
		printMargins(os.Stdout, report)
	}
	if report.Status() == models.RunStatusPartial {
		return exitPartial
	}
	return exitOK
}

func scheduleCommand(ctx context.Context, args []string) int {
	flags := pflag.NewFlagSet("schedule", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "apportion.yaml", "Run configuration file")
	spec := flags.String("cron", "", "Cron expression, overrides the configured schedule")
	immediate := flags.Bool("now", false, "Run once immediately before waiting for the schedule")
	if err := flags.Parse(args); err != nil {
		return exitFailed
	}

	cfg, logger, err := loadRunConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailed
	}
	if *spec != "" {
		cfg.Schedule = *spec
	}
	if cfg.Schedule == "" {
		logger.Error("No schedule configured", fmt.Errorf("set schedule in %s or pass --cron", *configPath))
		return exitFailed
	}

	opts := []apportion.Option{apportion.WithLogger(logger)}
	if cfg.RunStore != "" {
		store, err := runstore.Open(cfg.RunStore)
		if err != nil {
			logger.Error("Failed to open run store", err)
			return exitFailed
		}
		defer store.Close()
		opts = append(opts, apportion.WithRunRecorder(store))
	}
	engine := apportion.NewEngine(cfg, opts...)

	svc := scheduler.NewService(logger)
	if err := svc.Add(cfg.Name, cfg.Schedule, func(ctx context.Context) error {
		_, err := engine.Run(ctx)
		return err
	}); err != nil {
		logger.Error("Failed to schedule run", err)
		return exitFailed
	}

	svc.Start(ctx)
	logger.Info("Scheduler started", logging.String("name", cfg.Name), logging.String("schedule", cfg.Schedule))
	if *immediate {
		if _, err := svc.RunNow(cfg.Name); err != nil {
			logger.Error("Immediate run failed", err)
		}
	}

	<-ctx.Done()
	logger.Info("Shutting down scheduler")
	svc.Stop()
	return exitOK
}

func geoUnitsCommand(ctx context.Context, args []string) int {
	flags := pflag.NewFlagSet("geounits", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "geounits.yaml", "Geo-unit seeding configuration file")
	dryRun := flags.Bool("dry-run", false, "Validate and print the hierarchy without writing")
	if err := flags.Parse(args); err != nil {
		return exitFailed
	}

	cfg, err := config.LoadGeoUnits(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailed
	}
	if err := logging.InitLogger(cfg.Logging); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailed
	}
	logger := logging.GetLogger()

	table, err := tabular.DefaultRegistry().Load(cfg.Results.Path, cfg.Results.Options())
	if err != nil {
		logger.Error("Failed to load election results", err)
		return exitFailed
	}
	h, err := geounit.Extract(table, cfg.Columns, cfg.ExpectedState, cfg.StateCode)
	if err != nil {
		logger.Error("Invalid election results", err)
		return exitFailed
	}
	if *dryRun {
		printHierarchy(os.Stdout, h)
		return exitOK
	}

	out, err := sink.DefaultRegistry().Open(ctx, cfg.Sink)
	if err != nil {
		logger.Error("Failed to open store", err)
		return exitFailed
	}
	defer out.Close()
	writer, ok := out.(sink.GeoUnitWriter)
	if !ok {
		logger.Error("Store cannot hold geo units", fmt.Errorf("sink %q", out.Name()))
		return exitFailed
	}

	result, err := geounit.NewSeeder(writer, logger).Seed(ctx, h)
	if err != nil {
		logger.Error("Seeding failed", err)
		return exitFailed
	}
	fmt.Printf("Seeded %d state, %d districts, %d constituencies and %d elections\n",
		result.States, result.Districts, result.Constituencies, result.Years)
	return exitOK
}

func runsCommand(ctx context.Context, args []string) int {
	flags := pflag.NewFlagSet("runs", pflag.ContinueOnError)
	path := flags.StringP("store", "s", os.Getenv("APPORTION_RUNSTORE"), "Run store database")
	limit := flags.IntP("limit", "n", 20, "Number of runs to list")
	if err := flags.Parse(args); err != nil {
		return exitFailed
	}
	if *path == "" {
		fmt.Fprintln(os.Stderr, "--store or APPORTION_RUNSTORE is required")
		return exitFailed
	}

	store, err := runstore.Open(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailed
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailed
	}
	printRuns(os.Stdout, runs)
	return exitOK
}

func loadRunConfig(path string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	if err := logging.InitLogger(cfg.Logging); err != nil {
		return nil, nil, err
	}
	return cfg, logging.GetLogger(), nil
}
