// Package submission posts completed non-referral funnels to the internal
// application backend.
package submission

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"opz-funnels/internal/common/errors"
	httpclient "opz-funnels/internal/common/http"
	"opz-funnels/internal/common/logger"
)

// Submitter delivers one finished funnel payload.
type Submitter interface {
	Submit(ctx context.Context, flow, userRef string, payload interface{}) (*Result, error)
}

type request struct {
	UserRef string      `json:"userRef"`
	Flow    string      `json:"flow"`
	Payload interface{} `json:"payload"`
}

// Result is what the backend acknowledged.
type Result struct {
	Flow       string `json:"flow"`
	UserRef    string `json:"userRef"`
	Reference  string `json:"reference,omitempty"`
	StatusCode int    `json:"-"`
}

type Client struct {
	baseURL string
	http    *httpclient.Client
	logger  logger.Logger
}

func NewClient(baseURL string, timeout time.Duration, log logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpclient.NewClient(timeout),
		logger:  log,
	}
}

// Submit posts to {base}/v1/applications/{flow}. 5xx and 429 replies are
// retryable, other non-2xx replies are not.
func (c *Client) Submit(ctx context.Context, flow, userRef string, payload interface{}) (*Result, error) {
	endpoint := fmt.Sprintf("%s/v1/applications/%s", c.baseURL, url.PathEscape(flow))

	resp, err := c.http.PostJSON(ctx, endpoint, request{UserRef: userRef, Flow: flow, Payload: payload}, nil)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, errors.NewTimeoutError("application backend", err)
		}
		return nil, errors.NewBackendSubmissionFailedError(flow, true, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == 429
		c.logger.Warn("backend rejected submission", map[string]interface{}{
			"flow":       flow,
			"userRef":    userRef,
			"statusCode": resp.StatusCode,
			"retryable":  retryable,
		})
		return nil, errors.NewBackendSubmissionFailedError(flow, retryable,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(resp.Body), 256)))
	}

	result := &Result{Flow: flow, UserRef: userRef, StatusCode: resp.StatusCode}
	var ack struct {
		ID        string `json:"id"`
		Reference string `json:"reference"`
	}
	if len(resp.Body) > 0 && json.Unmarshal(resp.Body, &ack) == nil {
		result.Reference = ack.Reference
		if result.Reference == "" {
			result.Reference = ack.ID
		}
	}

	c.logger.Info("application submitted", map[string]interface{}{
		"flow":      flow,
		"userRef":   userRef,
		"reference": result.Reference,
	})
	return result, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return stderrors.As(err, &t) && t.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
