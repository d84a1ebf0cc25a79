// Package reminder mails users who have not entered any schedule for the
// current month once a few business days have passed.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "worksched/internal/log"
	"worksched/internal/model"
)

const (
	DefaultSpec         = "0 9 * * 1-5"
	DefaultBusinessDays = 3

	Subject = "作業場所スケジュールが未登録です"
)

// Body is the reminder text for month m.
func Body(m time.Month) string {
	return fmt.Sprintf("%d月の作業場所スケジュールが登録されていません。至急ご対応ください。", int(m))
}

// Source lists users without any entry in a month. Both the API client and
// the user repository satisfy it.
type Source interface {
	MissingSchedule(ctx context.Context, ym model.YearMonth) ([]model.User, error)
}

// Mailer delivers one message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Options configures a Job. Zero values fall back to the defaults.
type Options struct {
	Spec         string
	BusinessDays int
	Location     *time.Location
	Now          func() time.Time
}

// Result summarises one run.
type Result struct {
	Month   model.YearMonth
	Skipped bool
	Missing int
	Sent    int
	Failed  int
}

// Job runs the reminder on a cron schedule.
type Job struct {
	source Source
	mailer Mailer
	spec   string
	days   int
	loc    *time.Location
	now    func() time.Time
	cron   *cron.Cron
}

// New validates opts and returns a stopped Job.
func New(source Source, mailer Mailer, opts Options) (*Job, error) {
	if source == nil || mailer == nil {
		return nil, errors.New("reminder: source and mailer are required")
	}
	j := &Job{
		source: source,
		mailer: mailer,
		spec:   opts.Spec,
		days:   opts.BusinessDays,
		loc:    opts.Location,
		now:    opts.Now,
	}
	if j.spec == "" {
		j.spec = DefaultSpec
	}
	if j.days <= 0 {
		j.days = DefaultBusinessDays
	}
	if j.loc == nil {
		j.loc = time.Local
	}
	if j.now == nil {
		j.now = time.Now
	}
	if _, err := cron.ParseStandard(j.spec); err != nil {
		return nil, fmt.Errorf("reminder: invalid cron spec %q: %w", j.spec, err)
	}
	return j, nil
}

// BusinessDaysElapsed counts Monday to Friday dates in [first, today).
// Holidays are not excluded.
func BusinessDaysElapsed(first, today time.Time) int {
	a := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	n := 0
	for d := a; d.Before(b); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n++
		}
	}
	return n
}

// Due reports whether reminders should go out on now.
func (j *Job) Due(now time.Time) bool {
	t := now.In(j.loc)
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, j.loc)
	return BusinessDaysElapsed(first, t) >= j.days
}

// RunOnce sends reminders for the month containing now. A failed delivery is
// logged and counted; it does not stop the run.
func (j *Job) RunOnce(ctx context.Context, now time.Time) (Result, error) {
	t := now.In(j.loc)
	ym := model.NewYearMonth(t.Year(), int(t.Month()))
	res := Result{Month: ym}

	if !j.Due(now) {
		appLog.Info("reminder skipped: too early in the month", "month", ym.String(), "business_days", j.days)
		res.Skipped = true
		return res, nil
	}

	users, err := j.source.MissingSchedule(ctx, ym)
	if err != nil {
		return res, fmt.Errorf("list users without schedule: %w", err)
	}
	res.Missing = len(users)

	body := Body(ym.Month)
	for _, u := range users {
		if u.Email == "" {
			continue
		}
		if err := j.mailer.Send(ctx, u.Email, Subject, body); err != nil {
			appLog.Warn("reminder delivery failed", "user_id", u.ID, "email", u.Email, "err", err)
			res.Failed++
			continue
		}
		res.Sent++
	}
	appLog.Info("reminder run finished", "month", ym.String(), "missing", res.Missing, "sent", res.Sent, "failed", res.Failed)
	return res, nil
}

// Start schedules RunOnce until ctx is cancelled or Stop is called.
func (j *Job) Start(ctx context.Context) {
	j.cron = cron.New(cron.WithLocation(j.loc))
	// Spec was validated in New.
	_, _ = j.cron.AddFunc(j.spec, func() {
		if _, err := j.RunOnce(ctx, j.now()); err != nil {
			appLog.Error("reminder run failed", err)
		}
	})
	j.cron.Start()
	appLog.Info("reminder scheduled", "spec", j.spec, "timezone", j.loc.String())

	go func() {
		<-ctx.Done()
		j.Stop()
	}()
}

// Stop halts the schedule and waits for a running job to return.
func (j *Job) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}
