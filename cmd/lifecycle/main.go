package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lifecycle/internal/alert"
	"github.com/smallbiznis/lifecycle/internal/clock"
	"github.com/smallbiznis/lifecycle/internal/config"
	"github.com/smallbiznis/lifecycle/internal/events"
	"github.com/smallbiznis/lifecycle/internal/joblock"
	"github.com/smallbiznis/lifecycle/internal/notification"
	"github.com/smallbiznis/lifecycle/internal/observability"
	"github.com/smallbiznis/lifecycle/internal/organization"
	"github.com/smallbiznis/lifecycle/internal/referral"
	"github.com/smallbiznis/lifecycle/internal/retention"
	"github.com/smallbiznis/lifecycle/internal/scheduler"
	"github.com/smallbiznis/lifecycle/internal/seed"
	"github.com/smallbiznis/lifecycle/internal/settings"
	"github.com/smallbiznis/lifecycle/internal/subscription"
	"github.com/smallbiznis/lifecycle/pkg/db"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	exitOK       = 0
	exitSystemic = 1
	exitUsage    = 2
)

const (
	commandAll  = "all"
	commandSeed = "seed"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("lifecycle", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	dryRun := flags.Bool("dry-run", false, "compute and log intended effects without persisting or notifying")
	noReminders := flags.Bool("no-reminders", false, "skip renewal reminders in the subscriptions job")
	flags.Usage = func() {
		fmt.Fprintf(stderr, "usage: lifecycle <%s|%s|%s> [flags]\n", strings.Join(scheduler.Jobs, "|"), commandAll, commandSeed)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return exitUsage
	}

	command := strings.ToLower(strings.TrimSpace(flags.Arg(0)))
	if command != commandAll && command != commandSeed {
		if _, err := scheduler.ParseJob(command); err != nil {
			fmt.Fprintf(stderr, "lifecycle: %v\n", err)
			flags.Usage()
			return exitUsage
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if command == commandSeed {
		return runSeed(ctx, stdout, stderr)
	}
	return runJobs(ctx, command, scheduler.RunOptions{DryRun: *dryRun, NoReminders: *noReminders}, stdout, stderr)
}

func runJobs(ctx context.Context, command string, opts scheduler.RunOptions, stdout, stderr io.Writer) int {
	var sched *scheduler.Scheduler
	options := []fx.Option{fx.Populate(&sched)}
	if opts.DryRun {
		options = append(options, fx.Decorate(func(_ notification.Sender, log *zap.Logger) notification.Sender {
			return notification.NewDryRun(log)
		}))
	}
	app, err := start(ctx, options...)
	if err != nil {
		fmt.Fprintf(stderr, "lifecycle: %v\n", err)
		return exitSystemic
	}
	defer shutdown(app, stderr)

	var results []scheduler.JobResult
	if command == commandAll {
		results, err = sched.RunOnce(ctx, opts)
	} else {
		var result scheduler.JobResult
		result, err = sched.RunJob(ctx, command, opts)
		results = append(results, result)
	}
	for _, result := range results {
		fmt.Fprintln(stdout, result.String())
	}
	if err != nil {
		fmt.Fprintf(stderr, "lifecycle: %v\n", err)
		return exitSystemic
	}
	return exitOK
}

func runSeed(ctx context.Context, stdout, stderr io.Writer) int {
	var (
		conn    *gorm.DB
		node    *snowflake.Node
		clk     clock.Clock
		runtime *config.RuntimeConfigHolder
		log     *zap.Logger
	)
	app, err := start(ctx, fx.Populate(&conn, &node, &clk, &runtime, &log))
	if err != nil {
		fmt.Fprintf(stderr, "lifecycle: %v\n", err)
		return exitSystemic
	}
	defer shutdown(app, stderr)

	result, err := seed.EnsureDefaults(ctx, conn, node, clk, runtime.Get(), log)
	if err != nil {
		fmt.Fprintf(stderr, "lifecycle: seed: %v\n", err)
		return exitSystemic
	}
	fmt.Fprintf(stdout, "job=seed created=%d\n", result.Created())
	return exitOK
}

func start(ctx context.Context, extra ...fx.Option) (*fx.App, error) {
	options := append([]fx.Option{
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		events.Module,
		notification.Module,
		joblock.Module,
		settings.Module,
		organization.Module,
		subscription.Module,
		retention.Module,
		referral.Module,
		alert.Module,
		scheduler.Module,
	}, extra...)

	app := fx.New(options...)
	if err := app.Err(); err != nil {
		return nil, err
	}
	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return nil, err
	}
	return app, nil
}

func shutdown(app *fx.App, stderr io.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		fmt.Fprintf(stderr, "lifecycle: shutdown: %v\n", err)
	}
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
