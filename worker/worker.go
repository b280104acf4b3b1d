package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"content-service/metrics"
	"content-service/model"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	SubjectRefreshRequest = "content.refresh.request"
	SubjectRefreshResult  = "content.refresh.result"
	queueGroup            = "content-refreshers"
	refreshTimeout        = 2 * time.Minute
)

// ErrStopped is returned for refresh requests made after Stop.
var ErrStopped = errors.New("refresh worker is stopped")

// Bus is the part of *nats.Conn the worker uses.
type Bus interface {
	Publish(subject string, data []byte) error
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// ContentRefresher is implemented by service.ContentService.
type ContentRefresher interface {
	Refresh(ctx context.Context, names []string) (map[string]model.RefreshCount, error)
	Prune(ctx context.Context)
}

// Worker keeps the content cache warm. It refreshes on a timer and, when a
// bus is configured, on refresh requests published by any instance.
type Worker struct {
	svc      ContentRefresher
	bus      Bus
	interval time.Duration
	sub      *nats.Subscription

	mu         sync.Mutex
	ctx        context.Context
	cancelFunc context.CancelFunc
	stopped    bool
	inflight   string // request ID of the running in-process refresh
	wg         sync.WaitGroup
}

// NewWorker builds a worker. bus may be nil, in which case refresh requests
// run in-process. An interval of zero disables the timer.
func NewWorker(svc ContentRefresher, bus Bus, interval time.Duration) *Worker {
	return &Worker{svc: svc, bus: bus, interval: interval}
}

func (w *Worker) Start(ctx context.Context) error {
	log.Println("Starting content refresh worker...")

	workerCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.ctx = workerCtx
	w.cancelFunc = cancel
	w.mu.Unlock()

	if w.bus != nil {
		sub, err := w.bus.QueueSubscribe(SubjectRefreshRequest, queueGroup, w.handleRefreshRequest)
		if err != nil {
			cancel()
			return err
		}
		w.sub = sub
		log.Printf("Successfully subscribed to %s", SubjectRefreshRequest)
	}

	if w.interval > 0 {
		w.wg.Add(1)
		go w.startScheduler(workerCtx)
	} else {
		log.Println("[INFO] Scheduled refresh disabled")
	}

	log.Println("Content refresh worker started successfully")
	return nil
}

func (w *Worker) Stop() {
	log.Println("Stopping content refresh worker...")
	if w.sub != nil {
		if err := w.sub.Unsubscribe(); err != nil {
			log.Printf("[WARN] Failed to unsubscribe: %v", err)
		}
	}
	w.mu.Lock()
	w.stopped = true
	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// RequestRefresh queues a refresh of the named routes and returns its request
// ID. Without a bus the refresh runs in the background of this instance, and
// a request made while one is running joins it. With a bus, the subscription
// handles requests one at a time.
func (w *Worker) RequestRefresh(names []string) (string, error) {
	req := model.RefreshRequest{
		RequestID:   uuid.NewString(),
		Categories:  names,
		RequestedAt: time.Now().UTC(),
	}

	if w.bus == nil {
		return w.startLocal(req)
	}

	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return "", ErrStopped
	}

	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	if err := w.bus.Publish(SubjectRefreshRequest, data); err != nil {
		metrics.NatsMessagesPublished.WithLabelValues(SubjectRefreshRequest, "error").Inc()
		return "", err
	}
	metrics.NatsMessagesPublished.WithLabelValues(SubjectRefreshRequest, "success").Inc()
	log.Printf("[INFO] Queued refresh request %s for %v", req.RequestID, names)
	return req.RequestID, nil
}

func (w *Worker) startLocal(req model.RefreshRequest) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return "", ErrStopped
	}
	if w.inflight != "" {
		log.Printf("[INFO] Refresh %s already running, joining it", w.inflight)
		return w.inflight, nil
	}

	ctx := w.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	w.inflight = req.RequestID
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.RunRefresh(ctx, req, "manual")
		w.mu.Lock()
		w.inflight = ""
		w.mu.Unlock()
	}()
	return req.RequestID, nil
}

// RunRefresh performs one refresh and prunes expired state afterwards.
func (w *Worker) RunRefresh(ctx context.Context, req model.RefreshRequest, trigger string) model.RefreshResult {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	start := time.Now()
	result := model.RefreshResult{RequestID: req.RequestID}

	counts, err := w.svc.Refresh(ctx, req.Categories)
	if err != nil {
		log.Printf("[ERROR] Refresh %s rejected: %v", req.RequestID, err)
		result.Results = map[string]model.RefreshCount{"request": {Error: err.Error()}}
	} else {
		result.Results = counts
		result.Success = true
		for _, c := range counts {
			if c.Error != "" {
				result.Success = false
			}
		}
	}
	w.svc.Prune(ctx)

	result.FinishedAt = time.Now().UTC()
	status := "success"
	if !result.Success {
		status = "partial"
	}
	metrics.RefreshRunsTotal.WithLabelValues(trigger, status).Inc()
	log.Printf("[INFO] Refresh %s (%s) finished in %v: %s", req.RequestID, trigger, time.Since(start), status)
	return result
}

func (w *Worker) handleRefreshRequest(msg *nats.Msg) {
	var req model.RefreshRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		log.Printf("Failed to unmarshal refresh request: %v", err)
		metrics.NatsMessagesReceived.WithLabelValues(msg.Subject, "error").Inc()
		return
	}
	metrics.NatsMessagesReceived.WithLabelValues(msg.Subject, "success").Inc()

	log.Printf("Processing refresh request: %+v", req)
	result := w.RunRefresh(w.context(), req, "nats")
	w.publishResult(result)
}

func (w *Worker) publishResult(result model.RefreshResult) {
	data, err := json.Marshal(result)
	if err != nil {
		log.Printf("Failed to marshal refresh result: %v", err)
		return
	}
	if err := w.bus.Publish(SubjectRefreshResult, data); err != nil {
		metrics.NatsMessagesPublished.WithLabelValues(SubjectRefreshResult, "error").Inc()
		log.Printf("Failed to publish refresh result: %v", err)
		return
	}
	metrics.NatsMessagesPublished.WithLabelValues(SubjectRefreshResult, "success").Inc()
}

func (w *Worker) startScheduler(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run immediately on startup
	w.scheduledRefresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scheduledRefresh(ctx)
		}
	}
}

func (w *Worker) scheduledRefresh(ctx context.Context) {
	log.Println("Refreshing content cache on schedule")
	w.RunRefresh(ctx, model.RefreshRequest{RequestID: generateRequestID()}, "schedule")
}

func (w *Worker) context() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil {
		return context.Background()
	}
	return w.ctx
}

func generateRequestID() string {
	return "scheduled-" + time.Now().Format("20060102-150405")
}
