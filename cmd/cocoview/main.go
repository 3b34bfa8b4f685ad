// cocoview is a terminal dashboard for a CoCo scheduler: it follows the
// scheduler's push channel and shows activities, tasks, statistics, graphs
// and the console log. With --headless it logs the projections instead.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"cocoview/internal/app"
	"cocoview/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const stopTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		cfgPath  string
		envFile  string
		url      string
		viewName string
		logLevel string
		headless bool
	)

	flagSet := pflag.NewFlagSet("cocoview", pflag.ContinueOnError)
	flagSet.StringVarP(&cfgPath, "config", "c", "./cocoview.yaml", "path to the config file (yaml or json)")
	flagSet.StringVar(&envFile, "env-file", ".env", "KEY=VALUE file loaded before reading COCOVIEW_* variables")
	flagSet.StringVarP(&url, "url", "u", "", "scheduler server url, e.g. ws://host:8080/ (overrides server.url)")
	flagSet.StringVar(&viewName, "view", "", "initial view: name or tab number 1-5")
	flagSet.StringVar(&logLevel, "log-level", "", "log level (overrides logging.level)")
	flagSet.BoolVar(&headless, "headless", false, "no terminal UI; log projections instead")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Println("cocoview", version)
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	if err := config.LoadDotEnv(envFile); err != nil {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	overrides := config.EnvOverrides(nil).Merge(config.Overrides{
		URL:         url,
		LogLevel:    logLevel,
		DefaultView: viewName,
	})
	if flagSet.Changed("headless") {
		overrides.Headless = &headless
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	session, err := app.New(app.Options{
		ConfigPath: cfgPath,
		Overrides:  overrides,
		Version:    version,
	})
	if err != nil {
		return err
	}
	if err := session.Start(ctx); err != nil {
		_ = session.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason, runErr := session.Run(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	_ = session.Stop(stopCtx, reason)

	if runErr != nil {
		return runErr
	}
	return session.Err()
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `cocoview: live dashboard for a CoCo scheduler.

Connects to the scheduler's push channel and renders the current snapshot.
Keys: 1-5 or tab/shift+tab switch views, r resets statistics, q quits.

Environment:
  %s, %s, %s override the config file;
  flags override the environment.

Usage:
  cocoview [flags]

Flags:
`, config.EnvURL, config.EnvLogLevel, config.EnvDefaultView)
	flagSet.PrintDefaults()
}
