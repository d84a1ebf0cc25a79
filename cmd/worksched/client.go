package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"worksched/internal/api"
	"worksched/internal/export"
	"worksched/internal/holiday"
	"worksched/internal/httpclient"
	"worksched/internal/ics"
	appLog "worksched/internal/log"
	"worksched/internal/model"
	"worksched/internal/schedule"
)

// client builds the API client and restores the saved session, if any.
func (a *app) client() (*api.Client, error) {
	retries := a.cfg.API.Retries
	if retries == 0 {
		retries = -1
	}
	hc, err := httpclient.New(httpclient.Options{
		BaseURL:    a.cfg.API.BaseURL,
		CSRFCookie: a.cfg.API.CSRFCookie,
		Timeout:    a.cfg.Timeout(),
		Retries:    retries,
		Notifier:   httpclient.NewStderrNotifier(),
	})
	if err != nil {
		return nil, err
	}
	if err := hc.LoadSession(a.cfg.API.SessionFile); err != nil {
		appLog.Debug("no saved session", "path", a.cfg.API.SessionFile, "err", err)
	}
	return api.New(hc, a.holidays()), nil
}

func (a *app) holidays() *holiday.Fetcher {
	return holiday.NewFetcher(a.cfg.Holidays.BaseURL, a.cfg.Holidays.CacheDir)
}

// viewModel loads the grid of ym as the logged-in user.
func (a *app) viewModel(ctx context.Context, ym model.YearMonth) (*schedule.ViewModel, *api.Client, error) {
	c, err := a.client()
	if err != nil {
		return nil, nil, err
	}
	vm := schedule.New(c, ym)
	if err := vm.LoadCurrentUser(ctx); err != nil {
		return nil, nil, loginHint(err)
	}
	if err := vm.LoadData(ctx); err != nil {
		return nil, nil, err
	}
	return vm, c, nil
}

func loginHint(err error) error {
	if errors.Is(err, httpclient.ErrAuthExpired) {
		return fmt.Errorf("%w (run `worksched login`)", err)
	}
	return err
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runLogin(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Account email")
	_ = fs.Parse(args)
	if *email == "" {
		return errors.New("-email is required")
	}
	password, err := readPassword("Password: ")
	if err != nil {
		return err
	}

	c, err := a.client()
	if err != nil {
		return err
	}
	res, err := c.Login(ctx, *email, password)
	if err != nil {
		return err
	}
	if err := c.HTTP().SaveSession(a.cfg.API.SessionFile); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	fmt.Println(res.Message)
	if res.IsDefaultPassword {
		fmt.Println("You are still using the initial password. Change it with `worksched passwd`.")
	}
	return nil
}

func runLogout(ctx context.Context, a *app, _ []string) error {
	c, err := a.client()
	if err != nil {
		return err
	}
	if err := c.Logout(ctx); err != nil {
		appLog.Warn("server logout failed", "err", err)
	}
	return httpclient.ClearSession(a.cfg.API.SessionFile)
}

func runPasswd(ctx context.Context, a *app, _ []string) error {
	oldPw, err := readPassword("Current password: ")
	if err != nil {
		return err
	}
	newPw, err := readPassword("New password: ")
	if err != nil {
		return err
	}
	again, err := readPassword("Repeat new password: ")
	if err != nil {
		return err
	}
	if newPw != again {
		return errors.New("passwords do not match")
	}
	c, err := a.client()
	if err != nil {
		return err
	}
	if err := c.ChangePassword(ctx, oldPw, newPw); err != nil {
		return loginHint(err)
	}
	fmt.Println("Password changed.")
	return nil
}

func runGrid(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("grid", flag.ExitOnError)
	month := fs.String("month", "", "Month as YYYY-MM (default: current)")
	_ = fs.Parse(args)
	ym, err := a.month(*month)
	if err != nil {
		return err
	}
	vm, _, err := a.viewModel(ctx, ym)
	if err != nil {
		return err
	}
	printGrid(os.Stdout, vm)
	return nil
}

func printGrid(out io.Writer, vm *schedule.ViewModel) {
	days := vm.DaysInMonth()
	holidays := vm.Holidays()
	tw := tabwriter.NewWriter(out, 0, 0, 1, ' ', 0)

	fmt.Fprint(tw, "ID\tName")
	for _, d := range days {
		fmt.Fprintf(tw, "\t%d", d)
	}
	fmt.Fprintln(tw, "\t在宅\t出勤日\t通勤\t")

	fmt.Fprint(tw, "\t")
	for _, d := range days {
		name := vm.WeekdayName(d)
		if holidays.IsHoliday(vm.YearMonth().Date(d)) {
			name = "祝"
		}
		fmt.Fprintf(tw, "\t%s", name)
	}
	fmt.Fprintln(tw, "\t\t\t\t")

	for _, s := range vm.Summary() {
		fmt.Fprintf(tw, "%d\t%s", s.User.ID, s.User.Name)
		for _, d := range days {
			fmt.Fprintf(tw, "\t%s", vm.GetLocation(s.User.ID, d))
		}
		mark := ""
		if s.ChangeRequired {
			mark = schedule.ChangeRequiredMark
		}
		fmt.Fprintf(tw, "\t%d\t%d\t%s\t%s\n", s.RemoteDays, s.WorkingDays, s.User.CommutingAllowance, mark)
	}
	_ = tw.Flush()
}

func runToggle(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("toggle", flag.ExitOnError)
	month := fs.String("month", "", "Month as YYYY-MM (default: current)")
	day := fs.Int("day", 0, "Day of month")
	_ = fs.Parse(args)
	ym, err := a.month(*month)
	if err != nil {
		return err
	}
	vm, _, err := a.viewModel(ctx, ym)
	if err != nil {
		return err
	}
	loc, err := vm.ToggleLocation(ctx, vm.CurrentUser().ID, *day)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s (%s)\n", ym.Date(*day), loc, loc.Label())
	return nil
}

func runFill(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("fill", flag.ExitOnError)
	month := fs.String("month", "", "Month as YYYY-MM (default: current)")
	rule := fs.String("rule", "", `RRULE, e.g. "FREQ=WEEKLY;BYDAY=MO,WE"`)
	loc := fs.String("location", string(model.LocationRemote), "Location code to set")
	_ = fs.Parse(args)
	if *rule == "" {
		return errors.New("-rule is required")
	}
	ym, err := a.month(*month)
	if err != nil {
		return err
	}
	vm, _, err := a.viewModel(ctx, ym)
	if err != nil {
		return err
	}
	n, err := vm.FillPattern(ctx, *rule, model.Location(*loc))
	fmt.Printf("%d day(s) updated\n", n)
	return err
}

func runAllowance(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("allowance", flag.ExitOnError)
	status := fs.String("status", "", "申請, 停止, 不要 or empty to clear")
	_ = fs.Parse(args)
	ym, err := a.month("")
	if err != nil {
		return err
	}
	c, err := a.client()
	if err != nil {
		return err
	}
	vm := schedule.New(c, ym)
	if err := vm.LoadCurrentUser(ctx); err != nil {
		return loginHint(err)
	}
	me := vm.CurrentUser()
	if err := vm.UpdateAllowance(ctx, me.ID, model.AllowanceStatus(*status)); err != nil {
		return err
	}
	fmt.Printf("commuting allowance of %s: %q\n", me.Name, *status)
	return nil
}

func runExport(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	month := fs.String("month", "", "Month as YYYY-MM (default: current)")
	format := fs.String("format", "xlsx", "xlsx or ics")
	userID := fs.Int64("user", 0, "Only this user (ics)")
	out := fs.String("out", "", "Output file (default: schedule-YYYY-MM.<format>)")
	_ = fs.Parse(args)

	ym, err := a.month(*month)
	if err != nil {
		return err
	}
	if *format != "xlsx" && *format != "ics" {
		return fmt.Errorf("unknown format %q", *format)
	}
	q := url.Values{"month": {ym.String()}}
	if *userID != 0 {
		q.Set("user_id", strconv.FormatInt(*userID, 10))
	}
	c, err := a.client()
	if err != nil {
		return err
	}
	data, err := c.Download(ctx, "/api/export/"+*format, q)
	if err != nil {
		return loginHint(err)
	}
	path := *out
	if path == "" {
		path = fmt.Sprintf("schedule-%s.%s", ym, *format)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

// runImport applies the current user's entries from a file written by export
// (or any calendar using the same SUMMARY labels).
func runImport(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	file := fs.String("file", "", "Input .xlsx or .ics")
	dryRun := fs.Bool("dry-run", false, "Only print what would change")
	_ = fs.Parse(args)
	if *file == "" {
		return errors.New("-file is required")
	}
	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()

	c, err := a.client()
	if err != nil {
		return err
	}
	me, err := c.Me(ctx)
	if err != nil {
		return loginHint(err)
	}

	var entries []model.ScheduleEntry
	switch strings.ToLower(filepath.Ext(*file)) {
	case ".xlsx":
		_, entries, err = export.ReadXLSX(f)
	case ".ics":
		entries, err = ics.Parse(f, me.ID)
	default:
		return fmt.Errorf("unsupported file type %q", filepath.Ext(*file))
	}
	if err != nil {
		return err
	}

	applied := 0
	for _, e := range entries {
		if e.UserID != me.ID {
			continue
		}
		if *dryRun {
			fmt.Printf("%s %s\n", e.WorkDate, e.Location)
			applied++
			continue
		}
		loc := e.Location
		if err := c.UpsertSchedule(ctx, me.ID, e.WorkDate, &loc); err != nil {
			return fmt.Errorf("%s: %w", e.WorkDate, err)
		}
		applied++
	}
	fmt.Printf("%d entr(ies) applied for %s\n", applied, me.Name)
	return nil
}
