package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"worksched/internal/auth"
	"worksched/internal/capture"
	appLog "worksched/internal/log"
	"worksched/internal/reminder"
	"worksched/internal/store"
	"worksched/internal/web"
)

func runServe(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	listen := fs.String("listen", "", "HTTP listen address (overrides config if set)")
	withReminder := fs.Bool("reminder", false, "Also run the missing-schedule reminder job")
	_ = fs.Parse(args)

	if *listen != "" {
		a.cfg.Server.Listen = *listen
	}
	if a.cfg.Server.JWTSecret == "" {
		secret, err := auth.NewCSRFToken()
		if err != nil {
			return err
		}
		a.cfg.Server.JWTSecret = secret
		appLog.Warn("server.jwt_secret is empty; using a random secret, sessions end on restart")
	}
	appLog.Info("effective config", "config", a.cfg.String())

	db, err := store.Open(a.cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", a.cfg.Server.DBPath, err)
	}
	defer db.Close()

	srv, err := web.NewServer(a.cfg, db, a.holidays())
	if err != nil {
		return err
	}

	if *withReminder {
		job, err := reminder.New(store.NewUserRepository(db), reminder.NewMailer(a.cfg.Reminder.SMTP), reminder.Options{
			Spec:         a.cfg.Reminder.Cron,
			BusinessDays: a.cfg.Reminder.BusinessDays,
			Location:     a.cfg.Location(),
		})
		if err != nil {
			return err
		}
		job.Start(ctx)
		defer job.Stop()
	}

	return srv.Run(ctx)
}

func runUserAdd(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("useradd", flag.ExitOnError)
	name := fs.String("name", "", "Display name")
	email := fs.String("email", "", "Login email")
	employee := fs.String("employee", "", "Employee number")
	_ = fs.Parse(args)
	if strings.TrimSpace(*name) == "" || strings.TrimSpace(*email) == "" {
		return errors.New("-name and -email are required")
	}
	password, err := readPassword("Initial password: ")
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	db, err := store.Open(a.cfg.Server.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	u, err := store.NewUserRepository(db).Create(ctx, store.NewUser{
		EmployeeNumber: *employee,
		Name:           *name,
		Email:          *email,
		PasswordHash:   hash,
	})
	if err != nil {
		return err
	}
	fmt.Printf("created user %d (%s)\n", u.ID, u.Email)
	return nil
}

// runRemind runs the reminder against a remote backend with the machine login,
// the way a scheduled job outside the server would.
func runRemind(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("remind", flag.ExitOnError)
	once := fs.Bool("once", false, "Run a single check now and exit")
	_ = fs.Parse(args)

	if a.cfg.Server.MachineAPIKey == "" || a.cfg.Reminder.Email == "" {
		return errors.New("server.machine_api_key and reminder.email must be configured")
	}
	c, err := a.client()
	if err != nil {
		return err
	}
	if _, err := c.LoginMachine(ctx, a.cfg.Server.MachineAPIKey, a.cfg.Reminder.Email, a.cfg.Reminder.Password); err != nil {
		return fmt.Errorf("machine login: %w", err)
	}

	job, err := reminder.New(c, reminder.NewMailer(a.cfg.Reminder.SMTP), reminder.Options{
		Spec:         a.cfg.Reminder.Cron,
		BusinessDays: a.cfg.Reminder.BusinessDays,
		Location:     a.cfg.Location(),
	})
	if err != nil {
		return err
	}
	if *once {
		res, err := job.RunOnce(ctx, time.Now())
		if err != nil {
			return err
		}
		if res.Skipped {
			fmt.Printf("%d business days have not passed yet\n", a.cfg.Reminder.BusinessDays)
			return nil
		}
		fmt.Printf("%s: %d without schedule, %d mailed, %d failed\n", res.Month, res.Missing, res.Sent, res.Failed)
		return nil
	}
	job.Start(ctx)
	<-ctx.Done()
	job.Stop()
	return nil
}

func runSnapshot(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	month := fs.String("month", "", "Month as YYYY-MM (default: current)")
	out := fs.String("out", "", "PNG output (default: grid-YYYY-MM.png)")
	thumb := fs.String("thumb", "", "Optional thumbnail output")
	thumbWidth := fs.Int("thumb-width", capture.DefaultThumbnailWidth, "Thumbnail width in pixels")
	timeout := fs.Duration("timeout", capture.DefaultTimeoutSec*time.Second, "Capture timeout")
	_ = fs.Parse(args)

	ym, err := a.month(*month)
	if err != nil {
		return err
	}
	c, err := a.client()
	if err != nil {
		return err
	}
	// Access tokens are short lived; start from a fresh one.
	if err := c.Refresh(ctx); err != nil {
		return loginHint(err)
	}
	_ = c.HTTP().SaveSession(a.cfg.API.SessionFile)
	token, ok := c.HTTP().Cookie("access_token")
	if !ok || token == "" {
		return errors.New("no session; run `worksched login` first")
	}
	path := *out
	if path == "" {
		path = fmt.Sprintf("grid-%s.png", ym)
	}
	err = capture.SnapshotGrid(ctx, capture.Options{
		BaseURL:        a.cfg.API.BaseURL,
		Month:          ym,
		AccessToken:    token,
		OutputPath:     path,
		ThumbnailPath:  *thumb,
		ThumbnailWidth: *thumbWidth,
		Timeout:        *timeout,
	})
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
