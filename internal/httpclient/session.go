package httpclient

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

type savedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type savedSession struct {
	BaseURL string        `json:"base_url"`
	SavedAt time.Time     `json:"saved_at"`
	Cookies []savedCookie `json:"cookies"`
}

// SaveSession writes the jar's cookies for the backend origin to path (0600).
func (c *Client) SaveSession(path string) error {
	if path == "" {
		return errors.New("session path is empty")
	}
	s := savedSession{BaseURL: c.base.String(), SavedAt: time.Now().UTC()}
	for _, ck := range c.jar.Cookies(c.base) {
		s.Cookies = append(s.Cookies, savedCookie{Name: ck.Name, Value: ck.Value})
	}
	data, err := json.MarshalIndent(&s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadSession restores cookies saved by SaveSession. A missing file or a file saved
// for a different backend is not an error; the client simply starts logged out.
func (c *Client) LoadSession(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	var s savedSession
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s.BaseURL != c.base.String() {
		return nil
	}
	cookies := make([]*http.Cookie, 0, len(s.Cookies))
	for _, sc := range s.Cookies {
		cookies = append(cookies, &http.Cookie{Name: sc.Name, Value: sc.Value, Path: "/"})
	}
	c.jar.SetCookies(c.base, cookies)
	return nil
}

// ClearSession removes the saved session file.
func ClearSession(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
