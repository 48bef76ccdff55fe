// Package notifier delivers terminal job snapshots to callback targets and the event bus.
// Delivery is best effort: failures are logged, never retried and never returned to the dispatcher.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cuongbtq/imagegen-api/internal/domain"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "imagegen-api-callback/1.0"
)

// Publisher publishes an encoded event. shared/rabbitmq.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, body []byte, contentType string) error
}

// Config holds notifier dependencies
type Config struct {
	Logger     *slog.Logger
	HTTPClient *http.Client
	Timeout    time.Duration
	UserAgent  string
	Events     Publisher
}

// Notifier sends job outcomes without blocking the caller
type Notifier struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	events    Publisher
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// New creates a Notifier
func New(cfg *Config) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Notifier{
		client:    client,
		timeout:   timeout,
		userAgent: userAgent,
		events:    cfg.Events,
		logger:    cfg.Logger,
	}
}

// Notify schedules delivery of job to its callback target and the event publisher, then returns
func (n *Notifier) Notify(job domain.Job) {
	if job.CallbackURL == "" && n.events == nil {
		return
	}

	body, err := json.Marshal(job.View())
	if err != nil {
		n.logger.Error("Failed to encode job snapshot",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if job.CallbackURL != "" {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.sendCallback(job.ID, job.CallbackURL, body)
		}()
	}

	if n.events != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.publishEvent(job.ID, body)
		}()
	}
}

func (n *Notifier) sendCallback(jobID, target string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	start := time.Now()
	status, err := n.Deliver(ctx, target, body)
	if err != nil {
		n.logger.Warn("Failed to send callback",
			slog.String("job_id", jobID),
			slog.String("callback_url", target),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return
	}

	n.logger.Info("Callback sent",
		slog.String("job_id", jobID),
		slog.String("callback_url", target),
		slog.Int("status", status),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// Deliver POSTs body to target once. A non-2xx reply is a delivery failure.
func (n *Notifier) Deliver(ctx context.Context, target string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%w: http %d", domain.ErrDelivery, resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (n *Notifier) publishEvent(jobID string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := n.events.Publish(ctx, body, "application/json"); err != nil {
		n.logger.Warn("Failed to publish completion event",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	n.logger.Debug("Completion event published",
		slog.String("job_id", jobID),
	)
}

// Wait blocks until in-flight deliveries finish or ctx is done
func (n *Notifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
