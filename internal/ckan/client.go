package ckan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the action API of a CKAN portal (dados.cvm.gov.br is one).
type Client struct {
	BaseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type Package struct {
	Name      string     `json:"name"`
	Title     string     `json:"title"`
	Resources []Resource `json:"resources"`
}

type Resource struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

type apiError struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
}

type envelope[T any] struct {
	Success bool      `json:"success"`
	Result  T         `json:"result"`
	Error   *apiError `json:"error"`
}

// PackageList returns the names of every package of the portal.
func (c *Client) PackageList(ctx context.Context) ([]string, error) {
	return action[[]string](ctx, c, "package_list", nil)
}

// PackageShow returns a package with its resources.
func (c *Client) PackageShow(ctx context.Context, id string) (Package, error) {
	return action[Package](ctx, c, "package_show", url.Values{"id": {id}})
}

func action[T any](ctx context.Context, c *Client, name string, q url.Values) (T, error) {
	var zero T
	u := c.BaseURL + "/api/3/action/" + name
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return zero, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, err
	}

	var env envelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return zero, fmt.Errorf("%s failed (%d): %s", name, resp.StatusCode, truncate(raw))
		}
		return zero, fmt.Errorf("parse %s response: %w", name, err)
	}
	if !env.Success || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := truncate(raw)
		if env.Error != nil {
			msg = env.Error.Type + ": " + env.Error.Message
		}
		return zero, fmt.Errorf("%s failed (%d): %s", name, resp.StatusCode, msg)
	}
	return env.Result, nil
}

func truncate(b []byte) string {
	if len(b) > 2048 {
		b = b[:2048]
	}
	return strings.TrimSpace(string(b))
}
