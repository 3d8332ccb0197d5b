// Package avatar drives the Duix/Heygem digital-avatar service: it submits
// lip-sync jobs pairing a synthesized narrative with a reference face video
// and optionally polls them to completion.
package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	queryPath   = "/easy/query"
	maxBodyEcho = 512
)

// ErrUnexpectedStatus is returned for non-2xx responses.
var ErrUnexpectedStatus = errors.New("unexpected status from avatar service")

// Job is the submit payload understood by the face2face service.
type Job struct {
	AudioURL        string `json:"audio_url"`
	VideoURL        string `json:"video_url"`
	Code            string `json:"code"`
	SuperResolution int    `json:"chaofen"`
	WatermarkSwitch int    `json:"watermark_switch"`
	PN              int    `json:"pn"`
}

// NewJob fills the fixed service flags.
func NewJob(audioURL, videoURL, code string) Job {
	return Job{AudioURL: audioURL, VideoURL: videoURL, Code: code, PN: 1}
}

// Status is a decoded query response.
type Status struct {
	State    string
	Progress float64
	Raw      string
}

// Done reports whether the job finished. The service reports completion as
// "completed", "done" or the number 2.
func (s Status) Done() bool {
	switch s.State {
	case "completed", "done", "2":
		return true
	default:
		return false
	}
}

// Client talks to the avatar HTTP API.
type Client struct {
	httpClient   *http.Client
	submitURL    string
	queryURLBase string
}

// NewClient creates a client with a per-request timeout.
func NewClient(submitURL, queryURLBase string, timeout time.Duration) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		submitURL:    submitURL,
		queryURLBase: strings.TrimRight(queryURLBase, "/"),
	}
}

// Submit posts one job.
func (c *Client) Submit(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.Code, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.submitURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create submit request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	_, err = c.do(req)

	return err
}

// Query fetches the state of a job. The status is read from the top-level
// "status" field or, failing that, from "data.status".
func (c *Client) Query(ctx context.Context, code string) (Status, error) {
	endpoint := c.queryURLBase + queryPath + "?code=" + url.QueryEscape(code)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return Status{}, fmt.Errorf("failed to create query request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return Status{}, err
	}

	if !gjson.ValidBytes(body) {
		return Status{}, fmt.Errorf("invalid query response for %s: %s", code, truncate(body))
	}

	parsed := gjson.ParseBytes(body)

	state := parsed.Get("status")
	if !state.Exists() {
		state = parsed.Get("data.status")
	}

	progress := parsed.Get("progress")
	if !progress.Exists() {
		progress = parsed.Get("data.progress")
	}

	return Status{State: state.String(), Progress: progress.Float(), Raw: parsed.Raw}, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", req.URL.Redacted(), err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: %s: %s", ErrUnexpectedStatus, resp.Status, truncate(body))
	}

	return body, nil
}

func truncate(body []byte) string {
	if len(body) > maxBodyEcho {
		return string(body[:maxBodyEcho]) + "..."
	}

	return string(body)
}
