// Package transform is the client for the language transform service
// (speech-to-text and machine translation behind a single /process call).
package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Op names the purpose of a transform call. It selects the timeout and is
// carried on failures.
type Op string

const (
	OpGreeting Op = "greeting"
	OpInbound  Op = "inbound"
	OpOutbound Op = "outbound"
)

// Content is either literal text or a reference to out-of-band media.
type Content struct {
	Text     string
	MediaURL string
}

func Text(s string) Content { return Content{Text: s} }

func Media(url string) Content { return Content{MediaURL: url} }

func (c Content) IsMedia() bool { return strings.TrimSpace(c.MediaURL) != "" }

func (c Content) empty() bool {
	return strings.TrimSpace(c.MediaURL) == "" && strings.TrimSpace(c.Text) == ""
}

type Request struct {
	Op         Op
	Content    Content
	SourceLang string
	TargetLang string
}

type Transformer interface {
	Transform(ctx context.Context, req Request) (string, error)
}

var ErrTransform = errors.New("transform failed")

// TransformFailure is returned for network errors, non-2xx responses and
// malformed payloads. Status is 0 when no response was received.
type TransformFailure struct {
	Op         Op
	SourceLang string
	TargetLang string
	Status     int
	Err        error
}

func (e *TransformFailure) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("transform %s %s->%s", e.Op, e.SourceLang, e.TargetLang)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransformFailure) Unwrap() error { return e.Err }

func (e *TransformFailure) Is(target error) bool { return target == ErrTransform }

// Transient reports whether a retry could plausibly succeed.
func (e *TransformFailure) Transient() bool {
	if e == nil {
		return false
	}
	if errors.Is(e.Err, context.Canceled) {
		return false
	}
	return e.Status == 0 || e.Status >= 500
}

// Timeouts holds per-purpose call bounds. Inbound calls carry audio and get
// the longest bound.
type Timeouts struct {
	Greeting time.Duration
	Outbound time.Duration
	Inbound  time.Duration
}

func (t Timeouts) For(op Op) time.Duration {
	switch op {
	case OpGreeting:
		return t.Greeting
	case OpOutbound:
		return t.Outbound
	case OpInbound:
		return t.Inbound
	default:
		return 0
	}
}

type Options struct {
	Timeouts Timeouts

	// IdentityFastPath returns text unchanged, without a network call, when
	// source and target languages match.
	IdentityFastPath bool
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	opts       Options
}

func NewClient(baseURL string, httpClient *http.Client, opts Options) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
		opts:       opts,
	}
}

type processRequest struct {
	Text       string `json:"text,omitempty"`
	MediaURL   string `json:"media_url,omitempty"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type processResponse struct {
	ResultText *string `json:"result_text"`
}

func (c *Client) Transform(ctx context.Context, req Request) (string, error) {
	fail := func(status int, err error) error {
		return &TransformFailure{Op: req.Op, SourceLang: req.SourceLang, TargetLang: req.TargetLang, Status: status, Err: err}
	}
	if req.Content.empty() {
		return "", fail(0, errors.New("no text or media provided"))
	}
	if c.opts.IdentityFastPath && !req.Content.IsMedia() && req.SourceLang == req.TargetLang {
		return req.Content.Text, nil
	}

	if d := c.opts.Timeouts.For(req.Op); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	payload := processRequest{SourceLang: req.SourceLang, TargetLang: req.TargetLang}
	if req.Content.IsMedia() {
		payload.MediaURL = req.Content.MediaURL
	} else {
		payload.Text = req.Content.Text
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fail(0, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", bytes.NewReader(body))
	if err != nil {
		return "", fail(0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fail(0, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return "", fail(resp.StatusCode, fmt.Errorf("transform service error: %s", strings.TrimSpace(string(b))))
	}

	var decoded processResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fail(resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	if decoded.ResultText == nil {
		return "", fail(resp.StatusCode, errors.New("response missing result_text"))
	}
	return *decoded.ResultText, nil
}
