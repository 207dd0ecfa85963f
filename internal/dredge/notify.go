package dredge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dredger/pkg/types"
)

// notify posts a run summary to the configured webhook. Delivery failures
// are logged and otherwise ignored; notification is best-effort.
func (e *Engine) notify(ctx context.Context, report *types.RunReport) {
	url := e.cfg.Notify.WebhookURL
	if url == "" {
		return
	}

	summary := fmt.Sprintf(
		"Recipe dredge complete: %d sites, %d examined, %d imported, %d rejected",
		len(report.Sites), report.TotalExamined(), report.TotalImported(), report.TotalRejected())

	// Both "content" (Discord) and "text" (Slack, ntfy) keys are set so
	// common webhook receivers render the message without adapters.
	payload, err := json.Marshal(map[string]string{
		"content": summary,
		"text":    summary,
	})
	if err != nil {
		return
	}

	timeout := e.cfg.Notify.Timeout.Duration
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		e.logger.Warn("webhook request invalid", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.logger.Warn("webhook delivery failed", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		e.logger.Warn("webhook rejected summary", "status", resp.StatusCode)
		return
	}
	e.logger.Info("run summary notification sent")
}
