// Package api is the typed client for the schedule backend.
package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"worksched/internal/httpclient"
	appLog "worksched/internal/log"
	"worksched/internal/model"
)

// HolidaySource supplies public holidays. Failures are absorbed by the source.
type HolidaySource interface {
	FetchOrEmpty(ctx context.Context, year int) model.HolidayMap
}

// Client exposes the backend operations consumed by the view-model and the CLI.
type Client struct {
	http     *httpclient.Client
	holidays HolidaySource
}

// New wraps an adapter. holidays may be nil, in which case FetchHolidays
// always returns an empty map.
func New(hc *httpclient.Client, holidays HolidaySource) *Client {
	return &Client{http: hc, holidays: holidays}
}

// HTTP returns the underlying adapter (session persistence, cookies).
func (c *Client) HTTP() *httpclient.Client {
	return c.http
}

// LoginResult is the body of a successful cookie login.
type LoginResult struct {
	Message           string `json:"message"`
	CSRFToken         string `json:"csrf_token"`
	IsDefaultPassword bool   `json:"is_default_password"`
}

// Tokens is returned by the machine login endpoint.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	CSRFToken    string `json:"csrf_token"`
	TokenType    string `json:"token_type"`
}

type upsertRequest struct {
	UserID   int64           `json:"user_id"`
	WorkDate string          `json:"work_date"`
	Location *model.Location `json:"location"`
}

type allowanceRequest struct {
	Allowance model.AllowanceStatus `json:"allowance"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// Login authenticates with email and password. Session cookies land in the
// adapter's jar.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)

	var out LoginResult
	if err := c.http.Send(ctx, http.MethodPost, "/api/auth/login", form, &out); err != nil {
		return nil, err
	}
	if _, ok := c.http.Cookie(httpclient.DefaultCSRFCookie); !ok && out.CSRFToken != "" {
		c.http.SetCookie(httpclient.DefaultCSRFCookie, out.CSRFToken)
	}
	appLog.Info("logged in", "email", email, "default_password", out.IsDefaultPassword)
	return &out, nil
}

// LoginMachine authenticates a scheduled job with the shared API key plus a
// service account, and installs the returned tokens as session cookies.
func (c *Client) LoginMachine(ctx context.Context, apiKey, email, password string) (*Tokens, error) {
	if apiKey == "" {
		return nil, errors.New("api key is empty")
	}
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)
	resp, err := c.http.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "/api/auth/login/lambda",
		Body:   form,
		Header: http.Header{"X-API-Key": {apiKey}},
	})
	if err != nil {
		return nil, err
	}
	var out Tokens
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, err
	}
	c.http.SetCookie("access_token", out.AccessToken)
	c.http.SetCookie("refresh_token", out.RefreshToken)
	c.http.SetCookie(httpclient.DefaultCSRFCookie, out.CSRFToken)
	return &out, nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var u model.User
	if err := c.http.Get(ctx, "/api/auth/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Refresh exchanges the refresh cookie for a new access token.
func (c *Client) Refresh(ctx context.Context) error {
	return c.http.Send(ctx, http.MethodPost, "/api/auth/refresh", nil, nil)
}

// Logout clears the server session.
func (c *Client) Logout(ctx context.Context) error {
	return c.http.Send(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

// ChangePassword replaces the current user's password.
func (c *Client) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	return c.http.Send(ctx, http.MethodPost, "/api/auth/change-password",
		changePasswordRequest{OldPassword: oldPassword, NewPassword: newPassword}, nil)
}

// FetchUsers lists all users.
func (c *Client) FetchUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := c.http.Get(ctx, "/api/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// MissingSchedule lists users with no entry in the given month.
func (c *Client) MissingSchedule(ctx context.Context, ym model.YearMonth) ([]model.User, error) {
	q := url.Values{}
	q.Set("year", strconv.Itoa(ym.Year))
	q.Set("month", strconv.Itoa(int(ym.Month)))

	var users []model.User
	if err := c.http.Get(ctx, "/api/users/missing-schedule", q, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// FetchSchedules lists every entry of the month.
func (c *Client) FetchSchedules(ctx context.Context, ym model.YearMonth) ([]model.ScheduleEntry, error) {
	q := url.Values{}
	q.Set("month", ym.String())

	var entries []model.ScheduleEntry
	if err := c.http.Get(ctx, "/api/schedules", q, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// UpsertSchedule stores loc for (userID, date). A nil or empty loc deletes the entry.
func (c *Client) UpsertSchedule(ctx context.Context, userID int64, date string, loc *model.Location) error {
	if loc != nil && loc.IsEmpty() {
		loc = nil
	}
	return c.http.Send(ctx, http.MethodPost, "/api/schedules",
		upsertRequest{UserID: userID, WorkDate: date, Location: loc}, nil)
}

// UpdateCommutingAllowance sets a user's allowance status.
func (c *Client) UpdateCommutingAllowance(ctx context.Context, userID int64, status model.AllowanceStatus) (*model.User, error) {
	if !status.Valid() {
		return nil, errors.New("invalid allowance status " + strconv.Quote(string(status)))
	}
	var u model.User
	path := "/api/users/" + strconv.FormatInt(userID, 10) + "/commuting_allowance"
	if err := c.http.Send(ctx, http.MethodPatch, path, allowanceRequest{Allowance: status}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// FetchHolidays returns the holidays of year from the third-party calendar.
// It never fails; an unavailable calendar yields an empty map.
func (c *Client) FetchHolidays(ctx context.Context, year int) model.HolidayMap {
	if c.holidays == nil {
		return model.HolidayMap{}
	}
	return c.holidays.FetchOrEmpty(ctx, year)
}

// Download fetches a raw document such as an export.
func (c *Client) Download(ctx context.Context, path string, query url.Values) ([]byte, error) {
	resp, err := c.http.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  query,
		Header: http.Header{"Accept": {"*/*"}},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
