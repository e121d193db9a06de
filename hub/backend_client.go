// Copyright 2025 Lawliet Project
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"lawliet/platform/shared/logger"
	"lawliet/platform/shared/types"
)

// BackendClient talks to the container orchestration backend's pod API.
// Every call is bounded by the client timeout; a timeout is reported the
// same way as any other transport failure.
type BackendClient struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

// NewBackendClient creates a client for the backend at baseURL.
func NewBackendClient(baseURL string, timeout time.Duration) *BackendClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BackendClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.New("backend-client"),
	}
}

func (c *BackendClient) podURL(ref string) string {
	return fmt.Sprintf("%s/pods/%s", c.baseURL, url.PathEscape(ref))
}

// observeCall records duration and outcome of one backend API call.
func observeCall(operation string, start time.Time, err error) {
	promBackendDuration.WithLabelValues(operation).Observe(float64(time.Since(start).Milliseconds()))
	status := "success"
	if err != nil {
		status = "error"
	}
	promBackendCalls.WithLabelValues(operation, status).Inc()
}

// ProvisionPod asks the backend to run image for username, exposing port.
func (c *BackendClient) ProvisionPod(ctx context.Context, username, image, port string) (err error) {
	start := time.Now()
	defer func() { observeCall("provision", start, err) }()
	body, err := json.Marshal(types.PodRequest{Image: image, Ports: []string{port}})
	if err != nil {
		return fmt.Errorf("failed to marshal pod request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.podURL(username), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create pod request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pod provisioning for %s failed: %v: %w", username, err, ErrBackendUnavailable)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.Warn(username, "", "Failed to close backend response body", nil)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.ErrorWithCode(username, "", "Backend rejected pod provisioning", resp.StatusCode, nil, nil)
		return fmt.Errorf("pod provisioning for %s returned status %d: %w", username, resp.StatusCode, ErrBackendUnavailable)
	}
	return nil
}

// DestroyPod asks the backend to destroy the pod identified by ref. The
// backend treats destroy as idempotent, so destroying an already-gone pod
// still succeeds.
func (c *BackendClient) DestroyPod(ctx context.Context, ref string) (err error) {
	start := time.Now()
	defer func() { observeCall("destroy", start, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.podURL(ref), nil)
	if err != nil {
		return fmt.Errorf("failed to create pod destroy request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pod destroy for %s failed: %v: %w", ref, err, ErrBackendUnavailable)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.Warn("", "", "Failed to close backend response body", nil)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.ErrorWithCode(ref, "", "Backend rejected pod destroy", resp.StatusCode, nil, nil)
		return fmt.Errorf("pod destroy for %s returned status %d: %w", ref, resp.StatusCode, ErrBackendUnavailable)
	}
	return nil
}

// PodStatus returns the backend's raw status payload for username's pods.
// The payload is passed through to the dashboard untouched.
func (c *BackendClient) PodStatus(ctx context.Context, username string) (payload []byte, err error) {
	start := time.Now()
	defer func() { observeCall("status", start, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.podURL(username), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create pod status request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pod status for %s failed: %v: %w", username, err, ErrBackendUnavailable)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.Warn(username, "", "Failed to close backend response body", nil)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.ErrorWithCode(username, "", "Backend rejected pod status query", resp.StatusCode, nil, nil)
		return nil, fmt.Errorf("pod status for %s returned status %d: %w", username, resp.StatusCode, ErrBackendUnavailable)
	}

	payload, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read pod status body: %w", err)
	}
	return payload, nil
}
