package agent

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

	"gatebot/pkg/logx"
)

// HTTPRuntime invokes the agent by POSTing the invocation to a webhook and
// reading the JSON result. The client carries no timeout on purpose:
// cancellation comes from ctx, deadlines are the remote side's job.
type HTTPRuntime struct {
	url    string
	client *http.Client
	log    logx.Logger
}

func NewHTTPRuntime(url string, log logx.Logger) (*HTTPRuntime, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("agent url is empty")
	}
	return &HTTPRuntime{url: url, client: &http.Client{}, log: log}, nil
}

func (r *HTTPRuntime) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	body, err := json.Marshal(inv)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("agent returned http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// A 2xx without a parseable body still counts as success.
		out = Result{}
	}
	r.log.Debug("agent invocation completed",
		logx.String("task", inv.TaskID),
		logx.Duration("dur", time.Since(start)))
	return out, nil
}
