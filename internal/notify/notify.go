// Package notify hands notification requests to the external push/SMS/email
// dispatcher. Requests are enqueued as River jobs inside the same database
// transaction as the state change that caused them (transactional outbox), so
// a slow or failing dispatcher can never block or roll back a financial
// mutation. Delivery is fire-and-forget from the core's perspective.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
)

type SendNotificationArgs struct {
	UserID uuid.UUID      `json:"user_id"`
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	Type   string         `json:"type"`
	Data   map[string]any `json:"data,omitempty"`
}

func (SendNotificationArgs) Kind() string { return "send_notification" }

// EnqueueTxFunc enqueues a notification within the given transaction.
// Provided by main using river.Client.InsertTx.
type EnqueueTxFunc func(ctx context.Context, tx pgx.Tx, args SendNotificationArgs) error

// Discard is an EnqueueTxFunc that drops notifications; useful in tests.
func Discard(context.Context, pgx.Tx, SendNotificationArgs) error { return nil }

type SendNotificationWorker struct {
	river.WorkerDefaults[SendNotificationArgs]
	dispatcherURL string
	httpClient    *http.Client
}

func NewSendNotificationWorker(dispatcherURL string) *SendNotificationWorker {
	return &SendNotificationWorker{
		dispatcherURL: dispatcherURL,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *SendNotificationWorker) Work(ctx context.Context, job *river.Job[SendNotificationArgs]) error {
	if w.dispatcherURL == "" {
		// No dispatcher configured (local development); drop silently.
		return nil
	}
	body, err := json.Marshal(job.Args)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.dispatcherURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call notification dispatcher: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification dispatcher returned %d", resp.StatusCode)
	}
	return nil
}
