package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Samijain03/Collab-X/internal/runner"
	"github.com/Samijain03/Collab-X/pkg/models"
	"github.com/Samijain03/Collab-X/pkg/retry"
)

// RunnerConfig holds runner client configuration.
type RunnerConfig struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
}

// RunnerClient executes code on a remote runner over HTTP. Server errors
// are retried with backoff.
type RunnerClient struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config
	authToken   string
}

var _ runner.Runner = (*RunnerClient)(nil)

// NewRunnerClient creates a runner client.
func NewRunnerClient(cfg RunnerConfig) *RunnerClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	return &RunnerClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		authToken:   cfg.AuthToken,
	}
}

// Run posts the request to /run.
func (c *RunnerClient) Run(ctx context.Context, req runner.Request) (models.RunResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return models.RunResult{}, err
	}

	return retry.DoWithResult(ctx, c.retryConfig, func() (models.RunResult, error) {
		var res models.RunResult
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(body))
		if err != nil {
			return res, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.authToken != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return res, retry.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("runner returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
			if retry.RetryableStatus(resp.StatusCode) {
				return res, retry.Retryable(err)
			}
			return res, err
		}

		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return res, fmt.Errorf("decode run result: %w", err)
		}
		if res.Language == "" {
			res.Language = req.Language
		}
		return res, nil
	})
}
