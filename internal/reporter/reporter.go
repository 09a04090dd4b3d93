// Package reporter implements the debounced HTTP progress reporter: a
// bounded FIFO of pre-built JSON event payloads, drained on a background
// goroutine, POSTed in batches with retry/backoff, flushed (with limited
// retries) at shutdown.
package reporter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gomoku-arena/arena/internal/jsonenc"
	"github.com/gomoku-arena/arena/internal/logging"
)

// QueueCap bounds the FIFO; beyond this, new events are dropped with a
// warning rather than applying backpressure to callers.
const QueueCap = 5000

const (
	minBackoff = 2 * time.Second
	maxBackoff = 10 * time.Second
	backoffStep = 2 * time.Second
	shutdownBackoff = 1 * time.Second
	shutdownRetries = 3
	pollInterval = 200 * time.Millisecond
)

// Reporter batches events and ships them to a remote HTTP sink.
type Reporter struct {
	baseURL  string
	apiKey   string
	debounce time.Duration
	client   *http.Client
	log      *logging.Logger

	mu       sync.Mutex
	queue    []string
	lastSend time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New starts the background drain loop. baseURL may be empty, in which case
// Enqueue is a no-op (progress reporting disabled).
func New(baseURL, apiKey string, debounce time.Duration, log *logging.Logger) *Reporter {
	r := &Reporter{
		baseURL:  baseURL,
		apiKey:   apiKey,
		debounce: debounce,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	if baseURL != "" {
		go r.loop()
	} else {
		close(r.done)
	}
	return r
}

// Enqueue adds a pre-built JSON event object to the FIFO, dropping it with a
// warning if the queue is full.
func (r *Reporter) Enqueue(eventJSON string) {
	if r.baseURL == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) >= QueueCap {
		if r.log != nil {
			r.log.Warning().Str("component", "reporter").Int("queue_cap", QueueCap).Log("dropping event, queue full")
		}
		return
	}
	r.queue = append(r.queue, eventJSON)
}

// Reset issues a synchronous DELETE <base>/api/reset, used at startup when
// cleanup is requested.
func (r *Reporter) Reset(ctx context.Context) error {
	if r.baseURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, r.baseURL+"/api/reset", nil)
	if err != nil {
		return err
	}
	r.setHeaders(req)
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("reporter: reset returned status %d", resp.StatusCode)
	}
	return nil
}

// Shutdown stops accepting new drain cycles and flushes whatever remains in
// the queue, with limited retries, then returns. It blocks until the
// background loop exits or ctx is done.
func (r *Reporter) Shutdown(ctx context.Context) {
	r.stopOnce.Do(func() { close(r.stopCh) })
	select {
	case <-r.done:
	case <-ctx.Done():
	}
}

func (r *Reporter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("X-API-KEY", r.apiKey)
	}
}

func (r *Reporter) takeBatch() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch := r.queue
	r.queue = nil
	return batch
}

func (r *Reporter) requeueFront(batch []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(batch, r.queue...)
}

func (r *Reporter) sendBatch(ctx context.Context, batch []string) error {
	body := []byte(jsonenc.Array(batch...))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/batch", bytes.NewReader(body))
	if err != nil {
		return err
	}
	r.setHeaders(req)
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("reporter: batch POST returned status %d", resp.StatusCode)
	}
	return nil
}

func (r *Reporter) loop() {
	defer close(r.done)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	backoff := minBackoff
	ctx := context.Background()

	for {
		select {
		case <-r.stopCh:
			r.flushShutdown(ctx)
			return
		case <-ticker.C:
		}

		if time.Since(r.lastSend) < r.debounce {
			continue
		}
		batch := r.takeBatch()
		if len(batch) == 0 {
			continue
		}

		if err := r.sendBatch(ctx, batch); err != nil {
			if r.log != nil {
				r.log.Warning().Str("component", "reporter").Err(err).Log("batch send failed, retrying")
			}
			r.requeueFront(batch)
			time.Sleep(backoff)
			if backoff < maxBackoff {
				backoff += backoffStep
			}
			continue
		}

		backoff = minBackoff
		r.lastSend = time.Now()
	}
}

// flushShutdown drains the whole remaining queue in one batch, retrying up
// to shutdownRetries times at shutdownBackoff, discarding on final failure.
func (r *Reporter) flushShutdown(ctx context.Context) {
	batch := r.takeBatch()
	if len(batch) == 0 {
		return
	}
	for attempt := 0; attempt < shutdownRetries; attempt++ {
		if err := r.sendBatch(ctx, batch); err == nil {
			return
		}
		time.Sleep(shutdownBackoff)
	}
	if r.log != nil {
		r.log.Warning().Str("component", "reporter").Int("dropped", len(batch)).Log("discarding unsent events at shutdown")
	}
}
