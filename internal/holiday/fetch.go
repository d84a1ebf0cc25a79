package holiday

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	appLog "worksched/internal/log"
	"worksched/internal/model"
)

// DefaultBaseURL serves {year}/date.json documents mapping YYYY-MM-DD to a name.
const DefaultBaseURL = "https://holidays-jp.github.io"

// cacheEntry holds HTTP cache metadata for a single year.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher loads public holiday calendars from a third-party source. It never
// sends session cookies or CSRF headers. Responses are cached on disk and reused
// on 304 or when the source is unreachable.
type Fetcher struct {
	client   *http.Client
	baseURL  string
	cacheDir string
}

// NewFetcher creates a Fetcher. An empty cacheDir disables the disk cache.
func NewFetcher(baseURL, cacheDir string) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		baseURL:  strings.TrimRight(baseURL, "/"),
		cacheDir: cacheDir,
	}
}

// URLForYear returns the document URL for year.
func (f *Fetcher) URLForYear(year int) string {
	return f.baseURL + "/api/v1/" + strconv.Itoa(year) + "/date.json"
}

// Fetch returns the holidays of year, honoring ETag and Last-Modified.
func (f *Fetcher) Fetch(ctx context.Context, year int) (model.HolidayMap, error) {
	url := f.URLForYear(year)
	cachePath := f.cachePathForYear(year)

	var (
		meta       cacheEntry
		cachedBody []byte
	)
	if cachePath != "" {
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			appLog.Error("holiday cache dir unavailable", err, "path", cachePath)
			cachePath = ""
		} else {
			meta, _ = loadCacheMeta(cachePath)
			cachedBody, _ = loadCacheBody(cachePath)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if meta.URL == url {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("holiday fetch network error, using cached body", err, "year", year)
			return decode(cachedBody)
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		holidays, err := decode(body)
		if err != nil {
			return nil, err
		}
		if cachePath != "" {
			newMeta := cacheEntry{
				URL:          url,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := saveCache(cachePath, newMeta, body); err != nil {
				appLog.Error("holiday cache save failed", err, "year", year)
			}
		}
		appLog.Debug("holiday fetch success", "year", year, "count", len(holidays))
		return holidays, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return nil, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("holiday fetch not modified; using cache", "year", year)
		return decode(cachedBody)

	default:
		if len(cachedBody) > 0 {
			appLog.Error("holiday fetch non-OK, using cached body", errors.New(resp.Status), "year", year)
			return decode(cachedBody)
		}
		return nil, fmt.Errorf("holiday fetch %s: %s", url, resp.Status)
	}
}

// FetchOrEmpty is the best-effort variant used when rendering a month: a failure
// is logged and an empty map returned so the schedule still renders.
func (f *Fetcher) FetchOrEmpty(ctx context.Context, year int) model.HolidayMap {
	h, err := f.Fetch(ctx, year)
	if err != nil {
		appLog.Warn("holidays unavailable; rendering without them", "year", year, "err", err)
		return model.HolidayMap{}
	}
	return h
}

func decode(body []byte) (model.HolidayMap, error) {
	var m map[string]string
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode holidays: %w", err)
	}
	out := make(model.HolidayMap, len(m))
	for date, name := range m {
		if _, err := time.Parse(model.DateLayout, date); err != nil {
			continue
		}
		out[date] = name
	}
	return out, nil
}

func (f *Fetcher) cachePathForYear(year int) string {
	if f.cacheDir == "" {
		return ""
	}
	return filepath.Join(f.cacheDir, strconv.Itoa(year))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "date.json"))
}

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "date.json"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}
