/*
DESCRIPTION
  webmap.go provides a Variables implementation that pulls process variables
  from a BPM electronics web map endpoint using batched HTTP requests.

AUTHORS
  The beamctl authors

LICENSE
  Copyright (C) 2026 the Australian Ocean Lab (AusOcean)

  It is free software: you can redistribute it and/or modify them
  under the terms of the GNU General Public License as published by the
  Free Software Foundation, either version 3 of the License, or (at your
  option) any later version.

  It is distributed in the hope that it will be useful, but WITHOUT
  ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
  FITNESS FOR A PARTICULAR PURPOSE. See the GNU General Public License
  for more details.

  You should have received a copy of the GNU General Public License
  along with beamctl in gpl.txt. If not, see http://www.gnu.org/licenses.
*/

// Package webmap provides a client for web map process variable endpoints.
//
// A web map endpoint serves a batch of register reads per POST. Each
// registered request string is given an index; a read request is
//
//	000<req0>001@001<req1>001@002<req2>001...
//
// and the response holds one "@" separated field per index, each field being
// a three digit index followed by the value. Writes are posted to the write
// endpoint (the read URL with "read" replaced by "write") as
//
//	000<req>001<value>
package webmap

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/ausocean/beamctl/pv"
	"github.com/ausocean/utils/logging"
)

// Default timing.
const (
	DefaultMinUpdate = 500 * time.Millisecond
	defaultTimeout   = 2 * time.Second
)

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("nil http client")
		}
		c.http = hc
		return nil
	}
}

// WithMinUpdate sets the age below which a cached batch is reused rather than
// fetched again.
func WithMinUpdate(d time.Duration) Option {
	return func(c *Client) error {
		if d < 0 {
			return fmt.Errorf("invalid min update: %v", d)
		}
		c.minUpdate = d
		return nil
	}
}

// WithClock sets the clock used for cache ageing and timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) error {
		c.now = now
		return nil
	}
}

// Client reads and writes registered process variables through a web map
// endpoint. It is safe for concurrent use.
type Client struct {
	readURL   string
	writeURL  string
	referer   string
	http      *http.Client
	minUpdate time.Duration
	now       func() time.Time
	log       logging.Logger

	mu       sync.Mutex
	index    map[string]int // Process variable name to request index.
	requests []string
	body     string    // Cached read request body; empty when stale.
	values   []float64 // Last batch; nil when invalidated.
	stamp    time.Time // Time of last batch.
}

// New returns a Client for the web map read endpoint at readURL. The referer
// identifies the device page and is sent with every request.
func New(readURL, referer string, log logging.Logger, opts ...Option) (*Client, error) {
	if !strings.Contains(readURL, "read") {
		return nil, fmt.Errorf("read URL %q does not name a read endpoint", readURL)
	}
	c := &Client{
		readURL:   readURL,
		writeURL:  strings.Replace(readURL, "read", "write", 1),
		referer:   referer,
		http:      &http.Client{Timeout: defaultTimeout},
		minUpdate: DefaultMinUpdate,
		now:       time.Now,
		log:       log,
		index:     make(map[string]int),
	}
	for i, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("could not apply option %d: %w", i, err)
		}
	}
	return c, nil
}

// Register binds the process variable name to the web map request string and
// returns its index in the batch.
func (c *Client) Register(name, request string) (int, error) {
	if request == "" {
		return 0, fmt.Errorf("empty request for %s", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if i, ok := c.index[name]; ok {
		return i, fmt.Errorf("%s already registered at index %d", name, i)
	}
	i := len(c.requests)
	c.index[name] = i
	c.requests = append(c.requests, request)
	c.body = ""
	c.values = nil
	return i, nil
}

// Read implements pv.Reader. Reads are served from the last batch while it is
// younger than the minimum update period; otherwise a new batch is fetched.
func (c *Client) Read(ctx context.Context, name string) (pv.Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[name]
	if !ok {
		return pv.Sample{}, fmt.Errorf("%w: %s", pv.ErrUnknownVariable, name)
	}

	if c.values == nil || c.now().Sub(c.stamp) >= c.minUpdate {
		err := c.fetch(ctx)
		if err != nil {
			return pv.Sample{}, err
		}
	}

	s := pv.Sample{Name: name, Time: c.stamp, Quality: pv.Invalid, Value: math.NaN()}
	if i < len(c.values) && !math.IsNaN(c.values[i]) {
		s.Value = c.values[i]
		s.Quality = pv.Good
	}
	return s, nil
}

// Write implements pv.Writer. A successful write invalidates the cached batch.
func (c *Client) Write(ctx context.Context, name string, v float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[name]
	if !ok {
		return fmt.Errorf("%w: %s", pv.ErrUnknownVariable, name)
	}

	body := "000" + c.requests[i] + "001" + strconv.FormatFloat(v, 'g', -1, 64)
	resp, err := c.post(ctx, c.writeURL, body)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("write rejected: %s", resp.Status)
	}
	c.values = nil
	c.log.Debug("wrote web map value", "name", name, "value", v)
	return nil
}

// WaitReady blocks until the endpoint answers a batch read, retrying with
// exponential backoff. It gives up when ctx is done or the backoff elapses.
func (c *Client) WaitReady(ctx context.Context, maxWait time.Duration) error {
	op := func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		err := c.fetch(ctx)
		if err != nil {
			c.log.Warning("web map endpoint not ready", "url", c.readURL, "error", err)
		}
		return err
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      maxWait,
		Clock:               backoff.SystemClock,
	}
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if err != nil {
		return fmt.Errorf("web map endpoint %s not ready: %w", c.readURL, err)
	}
	return nil
}

// fetch performs a batch read of every registered request. c.mu must be held.
func (c *Client) fetch(ctx context.Context) error {
	if c.body == "" {
		c.body = c.readRequest()
	}

	resp, err := c.post(ctx, c.readURL, c.body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("read rejected: %s", resp.Status)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response body: %w", err)
	}

	c.values = parseValues(string(b), len(c.requests))
	c.stamp = c.now()
	return nil
}

func (c *Client) post(ctx context.Context, url, body string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=UTF-8")
	if c.referer != "" {
		req.Header.Set("Referer", c.referer)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not post to %s: %w", url, err)
	}
	return resp, nil
}

// readRequest builds the batch read body. c.mu must be held.
func (c *Client) readRequest() string {
	var sb strings.Builder
	for i, r := range c.requests {
		if i == 0 {
			sb.WriteString("000")
		} else {
			fmt.Fprintf(&sb, "@%03d", i)
		}
		sb.WriteString(r)
		sb.WriteString("001")
	}
	return sb.String()
}

// parseValues parses a batch response into n values. Missing or malformed
// fields are NaN.
func parseValues(resp string, n int) []float64 {
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = math.NaN()
	}
	for i, f := range strings.Split(strings.TrimSpace(resp), "@") {
		if i >= n || len(f) <= 3 {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(f[3:]), 64)
		if err != nil {
			continue
		}
		vals[i] = v
	}
	return vals
}
