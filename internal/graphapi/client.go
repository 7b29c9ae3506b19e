// Package graphapi implements the asynchronous insights report client over HTTP.
package graphapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"git.home.luguber.info/inful/insightsync/internal/asyncjob"
	"git.home.luguber.info/inful/insightsync/internal/config"
	"git.home.luguber.info/inful/insightsync/internal/foundation/errors"
	"git.home.luguber.info/inful/insightsync/internal/logfields"
	"git.home.luguber.info/inful/insightsync/internal/model"
	"git.home.luguber.info/inful/insightsync/internal/quota"
	"git.home.luguber.info/inful/insightsync/internal/retry"
)

const userAgent = "insightsync/1.0"

// Async report states as reported by the platform.
const (
	asyncNotStarted = "Job Not Started"
	asyncStarted    = "Job Started"
	asyncRunning    = "Job Running"
	asyncCompleted  = "Job Completed"
	asyncFailed     = "Job Failed"
	asyncSkipped    = "Job Skipped"
)

// Client talks to the insights platform. It implements asyncjob.Client and
// reports the latest throttle headers to the job manager.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	pageSize   int
	policy     retry.Policy

	mu       sync.Mutex
	throttle quota.Signal
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy replaces the policy derived from the api config.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// New creates a client for cfg.
func New(cfg config.APIConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, ErrAccessTokenRequired
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.ConfigError("invalid api.base_url").
			WithCause(err).
			WithContext("base_url", cfg.BaseURL).
			Build()
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/" + strings.Trim(cfg.Version, "/")

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeoutDuration()},
		baseURL:    strings.TrimSuffix(base.String(), "/"),
		token:      cfg.AccessToken,
		pageSize:   cfg.PageSize,
		policy:     retry.APIPolicy(cfg),
		throttle:   quota.Unreported,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Throttle returns the most recent quota signal seen on any response.
func (c *Client) Throttle() quota.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.throttle
}

func (c *Client) observe(h http.Header) {
	sig, ok := parseThrottle(h)
	if !ok {
		return
	}
	c.mu.Lock()
	c.throttle = sig
	c.mu.Unlock()
}

type timeRange struct {
	Since string `json:"since"`
	Until string `json:"until"`
}

func submitForm(req asyncjob.Request) (url.Values, error) {
	p := req.Params
	form := url.Values{}
	if p.Level != "" {
		form.Set("level", p.Level)
	}
	if len(p.Fields) > 0 {
		form.Set("fields", strings.Join(p.Fields, ","))
	}
	if len(p.Breakdowns) > 0 {
		form.Set("breakdowns", strings.Join(p.Breakdowns, ","))
	}
	if len(p.ActionBreakdowns) > 0 {
		form.Set("action_breakdowns", strings.Join(p.ActionBreakdowns, ","))
	}
	form.Set("time_increment", strconv.Itoa(max(p.TimeIncrement, 1)))
	form.Set("action_report_time", "mixed")

	tr, err := json.Marshal(timeRange{Since: req.Interval.Start.String(), Until: req.Interval.End.String()})
	if err != nil {
		return nil, err
	}
	form.Set("time_range", string(tr))

	if len(p.Filtering) > 0 {
		filtering, err := json.Marshal(p.Filtering)
		if err != nil {
			return nil, err
		}
		form.Set("filtering", string(filtering))
	}
	return form, nil
}

// Submit starts an async report run for the request's account and interval.
func (c *Client) Submit(ctx context.Context, req asyncjob.Request) (asyncjob.Handle, error) {
	form, err := submitForm(req)
	if err != nil {
		return "", errors.InternalError("failed to encode report request").WithCause(err).Build()
	}

	var out struct {
		ReportRunID string `json:"report_run_id"`
	}
	endpoint := c.baseURL + "/act_" + url.PathEscape(req.AccountID) + "/insights"
	if err := c.do(ctx, http.MethodPost, endpoint, form, &out); err != nil {
		return "", err
	}
	if out.ReportRunID == "" {
		return "", errors.RemoteJobError("platform returned no report_run_id").
			WithContext("account_id", req.AccountID).
			Build()
	}
	return asyncjob.Handle(out.ReportRunID), nil
}

// Poll queries the status of a report run.
func (c *Client) Poll(ctx context.Context, h asyncjob.Handle) (asyncjob.RemoteStatus, error) {
	var out struct {
		ID              string `json:"id"`
		AsyncStatus     string `json:"async_status"`
		PercentComplete int    `json:"async_percent_completion"`
	}
	endpoint := c.baseURL + "/" + url.PathEscape(string(h)) + "?fields=id,async_status,async_percent_completion"
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return asyncjob.RemoteStatus{}, err
	}

	status := asyncjob.RemoteStatus{PercentComplete: out.PercentComplete, Message: out.AsyncStatus}
	switch out.AsyncStatus {
	case asyncCompleted:
		status.State = asyncjob.RemoteCompleted
	case asyncFailed:
		status.State = asyncjob.RemoteFailed
	case asyncSkipped:
		status.State = asyncjob.RemoteSkipped
	case asyncNotStarted:
		status.State = asyncjob.RemotePending
	default:
		status.State = asyncjob.RemoteRunning
	}
	return status, nil
}

type page struct {
	Data   []model.Record `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// FetchRows downloads the rows of a completed report run one page at a time.
func (c *Client) FetchRows(ctx context.Context, h asyncjob.Handle) iter.Seq2[model.Record, error] {
	return func(yield func(model.Record, error) bool) {
		q := url.Values{}
		if c.pageSize > 0 {
			q.Set("limit", strconv.Itoa(c.pageSize))
		}
		next := c.baseURL + "/" + url.PathEscape(string(h)) + "/insights"
		if len(q) > 0 {
			next += "?" + q.Encode()
		}

		for next != "" {
			var p page
			if err := c.do(ctx, http.MethodGet, next, nil, &p); err != nil {
				yield(nil, err)
				return
			}
			for _, row := range p.Data {
				if !yield(row, nil) {
					return
				}
			}
			next = p.Paging.Next
		}
	}
}

// do performs one API call, retrying transient failures according to the policy.
func (c *Client) do(ctx context.Context, method, endpoint string, form url.Values, out any) error {
	for attempt := 0; ; attempt++ {
		err := c.once(ctx, method, endpoint, form, out)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		ce, ok := errors.AsClassified(err)
		if !ok || !ce.CanRetry() || c.policy.Exhausted(attempt) {
			return err
		}
		slog.Debug("Retrying platform request",
			slog.String("method", method),
			slog.String("url", redact(endpoint)),
			logfields.Attempt(attempt+1),
			logfields.Error(err))
		if err := c.policy.Wait(ctx, attempt+1); err != nil {
			return err
		}
	}
}

func (c *Client) once(ctx context.Context, method, endpoint string, form url.Values, out any) error {
	var body io.Reader = http.NoBody
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return errors.InternalError("failed to create request").
			WithCause(err).
			WithContext("method", method).
			WithContext("url", redact(endpoint)).
			Build()
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NetworkError("failed to execute platform request").
			WithCause(err).
			WithContext("method", method).
			WithContext("url", redact(endpoint)).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	c.observe(resp.Header)

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var env errorEnvelope
		_ = json.Unmarshal(raw, &env)
		return classify(resp.StatusCode, raw, env.Error, endpoint)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NetworkError("failed to read platform response").WithCause(err).Build()
	}
	var env errorEnvelope
	if json.Unmarshal(raw, &env) == nil && env.Error != nil {
		return classify(resp.StatusCode, raw, env.Error, endpoint)
	}
	if out != nil {
		if err := json.NewDecoder(bytes.NewReader(raw)).Decode(out); err != nil {
			return errors.NetworkError("failed to decode platform response").
				WithCause(err).
				WithContext("url", redact(endpoint)).
				Build()
		}
	}
	return nil
}
