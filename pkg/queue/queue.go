package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmux/agentmux/pkg/delivery"
	"github.com/agentmux/agentmux/pkg/store"
)

// Config tunes queue processing.
type Config struct {
	MaxRetries   int           // agent-not-ready re-enqueues per message
	RetryDelay   time.Duration // pause before retrying a not-ready message
	HistoryLimit int           // completed/failed/cancelled messages kept
	ReplyTimeout time.Duration // wait for the agent's reply after delivery
}

// DefaultConfig returns the standard queue settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		RetryDelay:   5 * time.Second,
		HistoryLimit: 100,
		ReplyTimeout: 2 * time.Minute,
	}
}

// Deliverer is the slice of the reliable-delivery layer the queue uses.
type Deliverer interface {
	Deliver(ctx context.Context, session, text string, opts delivery.Options) (delivery.Result, error)
}

// ResponseCollector obtains the agent's reply after a delivered message.
type ResponseCollector interface {
	CollectResponse(ctx context.Context, session, messageID string) (string, error)
}

// Emitter publishes queue transitions for real-time subscribers. All
// methods must be non-blocking for the queue worker.
type Emitter interface {
	PublishQueueEvent(conversationID, event string, msg *Message)
}

// Queue is the centralized message queue. Exactly one worker drains it, so
// messages are processed strictly in FIFO order across all sources. Every
// mutation is persisted before the next transition begins.
type Queue struct {
	store     *store.Store
	deliverer Deliverer
	collector ResponseCollector
	router    *Router
	emitter   Emitter
	cfg       Config

	mu      sync.Mutex
	pending []*Message
	current *Message
	history        []*Message
	totalProcessed int
	totalFailed    int

	notifyCh chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger *slog.Logger
}

// New creates the queue and recovers persisted state. A message that was
// mid-processing when the previous process died is demoted back to the
// head of the pending list so it is re-delivered first.
// emitter may be nil (no real-time events).
func New(st *store.Store, deliverer Deliverer, collector ResponseCollector, router *Router, emitter Emitter, cfg Config) (*Queue, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultConfig().ReplyTimeout
	}

	q := &Queue{
		store:     st,
		deliverer: deliverer,
		collector: collector,
		router:    router,
		emitter:   emitter,
		cfg:       cfg,
		notifyCh:  make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		logger:    slog.Default().With("component", "queue"),
	}
	if err := q.recover(); err != nil {
		return nil, err
	}
	return q, nil
}

// recover loads the persisted snapshot and demotes an interrupted
// processing message to the pending head.
func (q *Queue) recover() error {
	state, err := store.ReadJSON(q.store, StateFile, State{})
	if err != nil {
		return fmt.Errorf("loading queue state: %w", err)
	}

	q.pending = state.Pending
	q.history = state.History
	q.totalProcessed = state.TotalProcessed
	q.totalFailed = state.TotalFailed

	if state.Current != nil {
		state.Current.Status = StatusPending
		state.Current.StartedAt = nil
		q.pending = append([]*Message{state.Current}, q.pending...)
		q.logger.Info("Recovered interrupted message to pending head",
			"message_id", state.Current.ID)
	}
	for _, m := range q.pending {
		m.Status = StatusPending
	}
	return q.persistLocked()
}

// Start launches the single worker goroutine.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.run(ctx)
}

// Stop signals the worker and waits for it to finish the message in
// flight. Safe to call more than once.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
}

// Enqueue validates and appends a message, persists, and wakes the
// worker. Returns the assigned message id.
func (q *Queue) Enqueue(input EnqueueInput) (string, error) {
	if input.Content == "" {
		return "", errors.New("empty message content")
	}
	if input.TargetSession == "" {
		return "", errors.New("missing target session")
	}
	switch input.Source {
	case SourceWebChat, SourceExternalChat, SourceSystemEvent:
	default:
		return "", fmt.Errorf("unknown source %q", input.Source)
	}

	msg := &Message{
		ID:             uuid.NewString(),
		Content:        input.Content,
		ConversationID: input.ConversationID,
		TargetSession:  input.TargetSession,
		Source:         input.Source,
		Status:         StatusPending,
		Meta:           input.Meta,
		CreatedAt:      time.Now(),
	}

	q.mu.Lock()
	q.pending = append(q.pending, msg)
	err := q.persistLocked()
	q.mu.Unlock()
	if err != nil {
		return "", err
	}

	q.emit(EventEnqueued, msg)
	q.wake()
	q.logger.Info("Message enqueued",
		"message_id", msg.ID, "source", msg.Source, "target", msg.TargetSession)
	return msg.ID, nil
}

// Cancel removes a pending message. Messages already processing or done
// cannot be cancelled.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	var cancelled *Message
	for i, m := range q.pending {
		if m.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			now := time.Now()
			m.Status = StatusCancelled
			m.CompletedAt = &now
			q.pushHistoryLocked(m)
			cancelled = m
			break
		}
	}
	if cancelled == nil {
		if q.current != nil && q.current.ID == id {
			q.mu.Unlock()
			return fmt.Errorf("message %q is processing: %w", id, ErrNotCancellable)
		}
		q.mu.Unlock()
		return fmt.Errorf("message %q: %w", id, ErrMessageNotFound)
	}
	err := q.persistLocked()
	q.mu.Unlock()
	if err != nil {
		return err
	}

	q.emit(EventCancelled, cancelled)
	q.logger.Info("Message cancelled", "message_id", id)
	return nil
}

// Status returns a snapshot of the queue's state.
func (q *Queue) Status() StatusReport {
	q.mu.Lock()
	defer q.mu.Unlock()
	report := StatusReport{
		PendingCount:   len(q.pending),
		TotalProcessed: q.totalProcessed,
		TotalFailed:    q.totalFailed,
		HistorySize:    len(q.history),
	}
	if q.current != nil {
		cp := *q.current
		report.Processing = &cp
	}
	return report
}

// Get returns the message with the given id from any lifecycle stage.
func (q *Queue) Get(id string) (*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current != nil && q.current.ID == id {
		cp := *q.current
		return &cp, nil
	}
	for _, m := range q.pending {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	for _, m := range q.history {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("message %q: %w", id, ErrMessageNotFound)
}

// History returns completed, failed, and cancelled messages,
// most recent first.
func (q *Queue) History() []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Message, len(q.history))
	for i, m := range q.history {
		cp := *m
		out[i] = &cp
	}
	return out
}

// run is the single worker loop. It waits until a message is available,
// then processes messages strictly head-first.
func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	q.logger.Info("Queue worker started")

	for {
		select {
		case <-q.stopCh:
			q.logger.Info("Queue worker shutting down")
			return
		case <-ctx.Done():
			q.logger.Info("Context cancelled, queue worker shutting down")
			return
		case <-q.notifyCh:
		}

		for {
			msg, ok := q.claimNext()
			if !ok {
				break
			}
			q.process(ctx, msg)
			if q.stopped(ctx) {
				return
			}
		}
	}
}

func (q *Queue) stopped(ctx context.Context) bool {
	select {
	case <-q.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// claimNext pops the pending head and marks it processing.
func (q *Queue) claimNext() (*Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 || q.current != nil {
		return nil, false
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	now := time.Now()
	msg.Status = StatusProcessing
	msg.StartedAt = &now
	q.current = msg
	if err := q.persistLocked(); err != nil {
		q.logger.Error("Failed to persist claim", "message_id", msg.ID, "error", err)
	}
	return msg, true
}

// process delivers one message and routes its response. Agent-not-ready
// outcomes re-enqueue the message at the tail with a bounded retry budget.
func (q *Queue) process(ctx context.Context, msg *Message) {
	log := q.logger.With("message_id", msg.ID, "target", msg.TargetSession)
	q.emit(EventProcessing, msg)

	res, err := q.deliverer.Deliver(ctx, msg.TargetSession, msg.Content, delivery.Options{
		ClearLineFirst: true,
	})
	switch {
	case err == nil && res.Delivered:
		replyCtx, cancel := context.WithTimeout(ctx, q.cfg.ReplyTimeout)
		response, cerr := q.collector.CollectResponse(replyCtx, msg.TargetSession, msg.ID)
		cancel()
		if cerr != nil {
			log.Warn("Reply collection failed", "error", cerr)
			q.finish(msg, StatusFailed, "", fmt.Sprintf("collecting reply: %v", cerr))
			return
		}
		q.finish(msg, StatusCompleted, response, "")

	case errors.Is(err, delivery.ErrPromptNotReady):
		q.requeueNotReady(msg, log)

	default:
		if err == nil {
			err = errors.New("delivery reported not delivered")
		}
		log.Error("Delivery failed", "error", err, "attempts", res.Attempts)
		q.finish(msg, StatusFailed, "", err.Error())
	}
}

// requeueNotReady puts a not-ready message back at the tail, or fails it
// once the retry budget is spent.
func (q *Queue) requeueNotReady(msg *Message, log *slog.Logger) {
	msg.RetryCount++
	if msg.RetryCount > q.cfg.MaxRetries {
		log.Warn("Agent never became ready, failing message", "retries", msg.RetryCount-1)
		q.finish(msg, StatusFailed, "", ErrAgentNotReady.Error())
		return
	}

	log.Info("Agent not ready, re-enqueueing", "retry", msg.RetryCount)
	q.mu.Lock()
	msg.Status = StatusPending
	msg.StartedAt = nil
	q.current = nil
	q.pending = append(q.pending, msg)
	if err := q.persistLocked(); err != nil {
		log.Error("Failed to persist re-enqueue", "error", err)
	}
	q.mu.Unlock()

	q.sleep(q.cfg.RetryDelay)
	q.wake()
}

// finish records the terminal state, persists, routes the response, and
// emits the transition event.
func (q *Queue) finish(msg *Message, status Status, response, errMsg string) {
	now := time.Now()

	q.mu.Lock()
	msg.Status = status
	msg.Response = response
	msg.Error = errMsg
	msg.CompletedAt = &now
	q.current = nil
	q.pushHistoryLocked(msg)
	if status == StatusCompleted {
		q.totalProcessed++
	} else {
		q.totalFailed++
	}
	if err := q.persistLocked(); err != nil {
		q.logger.Error("Failed to persist terminal state", "message_id", msg.ID, "error", err)
	}
	q.mu.Unlock()

	event := EventCompleted
	if status != StatusCompleted {
		event = EventFailed
	}
	q.emit(event, msg)

	if q.router != nil {
		var failure error
		if errMsg != "" {
			failure = errors.New(errMsg)
		}
		q.router.Route(msg, response, failure)
	}
	q.logger.Info("Message finished", "message_id", msg.ID, "status", status)
}

// pushHistoryLocked prepends msg to history and trims to the limit.
// Caller holds q.mu.
func (q *Queue) pushHistoryLocked(msg *Message) {
	q.history = append([]*Message{msg}, q.history...)
	if len(q.history) > q.cfg.HistoryLimit {
		q.history = q.history[:q.cfg.HistoryLimit]
	}
}

// persistLocked writes the full snapshot atomically. Caller holds q.mu
// (or runs before the worker starts).
func (q *Queue) persistLocked() error {
	state := State{
		Pending:        q.pending,
		Current:        q.current,
		History:        q.history,
		TotalProcessed: q.totalProcessed,
		TotalFailed:    q.totalFailed,
	}
	return q.store.AtomicWriteJSON(StateFile, state)
}

func (q *Queue) emit(event string, msg *Message) {
	if q.emitter == nil {
		return
	}
	cp := *msg
	q.emitter.PublishQueueEvent(msg.ConversationID, event, &cp)
}

// wake nudges the worker without blocking.
func (q *Queue) wake() {
	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
}

// sleep waits for d or until stop is signalled.
func (q *Queue) sleep(d time.Duration) {
	select {
	case <-q.stopCh:
	case <-time.After(d):
	}
}
