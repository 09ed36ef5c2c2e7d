// Copyright 2025 The Polis Authors
//
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

package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/polisware/polis/pkg/fault"
	"github.com/polisware/polis/pkg/httpclient"
	"github.com/polisware/polis/pkg/logger"
)

const maxReplyBytes = 4 << 20

// Client delivers tasks to a peer agent's /a2a/tasks endpoint.
//
// Retries apply to network failures and 5xx only. A reply with
// status=failed is a delivered answer, not a transport failure, so it
// comes back as (*Reply, nil) and the caller interprets its error kind.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *httpclient.Client
	log     *slog.Logger
}

// NewClient builds a client for the agent at baseURL. A zero timeout
// defaults to 20 seconds per exchange.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http: httpclient.New(
			httpclient.WithRetryableStatus(func(code int) bool { return code >= 500 }),
		),
		log: logger.Component("a2a.client"),
	}
}

// Send posts the task and returns the correlated reply.
func (c *Client) Send(ctx context.Context, task *Task) (*Reply, error) {
	if task == nil || task.TaskID == "" {
		return nil, fault.New(fault.InvalidParameters, "task must carry a task_id")
	}

	body, err := json.Marshal(task)
	if err != nil {
		return nil, fault.Wrap(fault.InvalidParameters, "task does not serialize", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	c.log.Debug("task_send",
		"task_id", task.TaskID,
		"to_agent", task.ToAgent,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+TasksPath, bytes.NewReader(body))
	if err != nil {
		return nil, fault.Wrap(fault.InvalidParameters, "building task request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		sendErr := c.sendFault(resp, err)
		c.log.Warn("task_send_failed",
			"task_id", task.TaskID,
			"to_agent", task.ToAgent,
			"error_kind", string(fault.KindOf(sendErr)),
			"latency_ms", time.Since(start).Milliseconds(),
			"detail", sendErr.Error(),
		)
		return nil, sendErr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fault.Wrap(fault.UpstreamError, "reading task reply", err)
	}

	var reply Reply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fault.Wrap(fault.ProtocolMismatch, "task reply is not a reply envelope", err)
	}
	if reply.TaskID != task.TaskID {
		return nil, fault.Newf(fault.ProtocolMismatch,
			"reply task_id %q does not match request %q", reply.TaskID, task.TaskID)
	}

	c.log.Debug("task_reply",
		"task_id", task.TaskID,
		"to_agent", task.ToAgent,
		"status", reply.Status,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return &reply, nil
}

// sendFault classifies a transport-level Send failure.
func (c *Client) sendFault(resp *http.Response, err error) error {
	if resp != nil {
		resp.Body.Close()
	}

	var retryErr *httpclient.RetryableError
	if errors.As(err, &retryErr) {
		if retryErr.StatusCode > 0 {
			return fault.Newf(fault.UpstreamError, "agent replied HTTP %d after retries", retryErr.StatusCode)
		}
		if isTimeout(retryErr.Err) {
			return fault.Wrap(fault.Timeout, "task exchange timed out", retryErr.Err)
		}
		return fault.Wrap(fault.ServerUnreachable, "agent endpoint unreachable", retryErr.Err)
	}
	if isTimeout(err) {
		return fault.Wrap(fault.Timeout, "task exchange timed out", err)
	}
	if resp != nil {
		return fault.Newf(fault.UpstreamError, "agent replied HTTP %d", resp.StatusCode)
	}
	return fault.Wrap(fault.ServerUnreachable, "agent endpoint unreachable", err)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
