package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"worksched/internal/config"
	appLog "worksched/internal/log"
	"worksched/internal/model"
)

const version = "0.3.0"

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, app *app, args []string) error
}

var commands = []command{
	{"serve", "run the backend API, grid page and optional reminder job", runServe},
	{"useradd", "create a user directly in the database", runUserAdd},
	{"login", "log in and store the session", runLogin},
	{"logout", "end the session", runLogout},
	{"passwd", "change your password", runPasswd},
	{"grid", "print the monthly grid", runGrid},
	{"toggle", "advance your location on a day", runToggle},
	{"fill", "set a location on days matching an RRULE", runFill},
	{"allowance", "set your commuting allowance status", runAllowance},
	{"export", "download the month as ics or xlsx", runExport},
	{"import", "apply your entries from an ics or xlsx file", runImport},
	{"remind", "mail users without a schedule this month", runRemind},
	{"snapshot", "capture the grid page as PNG", runSnapshot},
}

// app carries what every subcommand needs.
type app struct {
	cfg        *config.Config
	configPath string
}

func main() {
	global := flag.NewFlagSet("worksched", flag.ExitOnError)
	configPath := global.String("config", defaultConfigPath(), "Path to config file")
	logLevel := global.String("log-level", "", "Log level (overrides config if set)")
	global.Usage = usage(global)
	_ = global.Parse(os.Args[1:])

	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		os.Exit(2)
	}
	var cmd *command
	for i := range commands {
		if commands[i].name == rest[0] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", rest[0])
		global.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if cfg == nil {
			appLog.Error("failed to load config", err, "config_path", *configPath)
			os.Exit(1)
		}
		appLog.Warn("config not saved; continuing with defaults", "config_path", *configPath, "err", err)
	}
	level := cfg.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(level))
	appLog.Debug("worksched starting", "version", version, "command", cmd.name, "config_path", *configPath)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := cmd.run(ctx, &app{cfg: cfg, configPath: *configPath}, rest[1:]); err != nil {
		appLog.Debug("command failed", "command", cmd.name, "err", err)
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if v := os.Getenv("WORKSCHED_CONFIG"); v != "" {
		return v
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + "/worksched/config.yaml"
	}
	return "worksched.yaml"
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		w := fs.Output()
		fmt.Fprintf(w, "usage: worksched [-config path] [-log-level level] <command> [flags]\n\ncommands:\n")
		for _, c := range commands {
			fmt.Fprintf(w, "  %-10s %s\n", c.name, c.summary)
		}
		fmt.Fprintln(w, "\nglobal flags:")
		fs.PrintDefaults()
	}
}

// month parses -month YYYY-MM, defaulting to the current month in the
// configured timezone.
func (a *app) month(v string) (model.YearMonth, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		now := time.Now().In(a.cfg.Location())
		return model.NewYearMonth(now.Year(), int(now.Month())), nil
	}
	return model.ParseYearMonth(v)
}
