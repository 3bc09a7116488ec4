package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/flashd/internal/config"
)

// cookieFile is the on-disk session cookie. Keeping it between invocations
// makes each flashctl call one request cycle of the same session.
type cookieFile struct {
	Name  string `toml:"name"`
	Value string `toml:"value"`
}

// client talks to the daemon's HTTP API.
type client struct {
	http    *http.Client
	base    string
	jarPath string
	cookie  cookieFile
}

func newClient(addr, jarPath string) (*client, error) {
	c := &client{http: &http.Client{}, base: "http://" + addr, jarPath: jarPath}
	if _, err := toml.DecodeFile(jarPath, &c.cookie); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read cookie file: %w", err)
	}
	return c, nil
}

// do sends one request and returns the status and body. Any session cookie
// the daemon sets is persisted for the next invocation.
func (c *client) do(ctx context.Context, method, path, body string) (int, []byte, error) {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return 0, nil, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cookie.Name != "" {
		req.AddCookie(&http.Cookie{Name: c.cookie.Name, Value: c.cookie.Value})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	if err := c.remember(resp.Cookies()); err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

// remember persists the last session cookie in cookies. A response may set
// the cookie twice when a brand-new session is rotated in the same cycle.
func (c *client) remember(cookies []*http.Cookie) error {
	var last *http.Cookie
	for _, ck := range cookies {
		if c.cookie.Name == "" || ck.Name == c.cookie.Name {
			last = ck
		}
	}
	if last == nil {
		return nil
	}
	next := cookieFile{Name: last.Name, Value: last.Value}
	if last.MaxAge < 0 {
		next = cookieFile{}
	}
	if next == c.cookie {
		return nil
	}
	c.cookie = next
	return config.Save(c.jarPath, &c.cookie)
}
