package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/logger"
	"go.uber.org/zap"
)

type WebhookConfig struct {
	Timeout         time.Duration
	MaxRetries      uint64
	InitialInterval time.Duration
	Client          *http.Client
}

type webhookHandler struct {
	client          *http.Client
	maxRetries      uint64
	initialInterval time.Duration
}

func NewWebhookHandler(conf WebhookConfig) *webhookHandler {
	client := conf.Client
	if client == nil {
		timeout := conf.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	interval := conf.InitialInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &webhookHandler{
		client:          client,
		maxRetries:      conf.MaxRetries,
		initialInterval: interval,
	}
}

func (h *webhookHandler) Validate(config map[string]any) error {
	raw := stringValue(config, "url")
	if len(raw) == 0 {
		return errMissing("url")
	}
	if u, err := url.Parse(raw); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return nil
	}
	// a url built from the context is only known at run time
	if len(tokenPrefix(raw)) > 0 {
		return nil
	}
	return api.Invalidf("url", "invalid webhook url %q", raw)
}

func (h *webhookHandler) Execute(ctx context.Context, req *Request) (Result, error) {
	target := stringValue(req.Config, "url")
	if len(target) == 0 {
		return Result{}, errMissing("url")
	}
	method := stringValue(req.Config, "method")
	if len(method) == 0 {
		method = http.MethodPost
	}
	body, ok := req.Config["body"]
	if !ok || body == nil {
		body = map[string]any{"entity": req.Entity, "data": req.Snapshot}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, err
	}
	headers, _ := req.Config["headers"].(map[string]any)

	var status int
	attempts := 0
	op := func() error {
		attempts++
		httpReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			httpReq.Header.Set(k, fmt.Sprintf("%v", v))
		}
		resp, err := h.client.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		status = resp.StatusCode
		if status >= 500 || status == http.StatusTooManyRequests {
			return fmt.Errorf("webhook %s returned %d", target, status)
		}
		if status >= 400 {
			return backoff.Permanent(fmt.Errorf("webhook %s returned %d", target, status))
		}
		return nil
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = h.initialInterval
	b := backoff.WithContext(backoff.WithMaxRetries(eb, h.maxRetries), ctx)
	err = backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		logger.Warn("webhook attempt failed", zap.String("url", target), zap.Duration("retryIn", wait), zap.Error(err))
	})
	if err != nil {
		return Result{Output: map[string]any{"status_code": status, "attempts": attempts}}, err
	}
	return Result{Output: map[string]any{"status_code": status, "attempts": attempts}}, nil
}

func tokenPrefix(s string) string {
	if len(s) > 2 && s[0] == '{' && s[1] == '$' {
		return s[:2]
	}
	return ""
}
