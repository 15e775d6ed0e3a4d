package services

import (
	"context"
	"sync"
	"time"

	"drivewatch/config"
	"drivewatch/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// stopTimeout bounds how long Stop waits for the subscription to unwind
const stopTimeout = 5 * time.Second

// Listener observes session changes. Listeners run while the controller
// holds its lock, so they must not block and must not call back into the
// controller.
type Listener func(event models.SessionEvent)

// SessionOption customizes a SessionController
type SessionOption func(*SessionController)

// WithClock replaces the wall clock, used by tests
func WithClock(c clock.WithDelayedExecution) SessionOption {
	return func(sc *SessionController) {
		sc.clock = c
	}
}

// SessionController owns the state of one telemetry session: connection
// status, current reading and a bounded, rate-limited history.
//
// Every handler runs to completion under mu, so handlers observe each other
// in a single total order no matter which goroutine the push channel or the
// timer fires on.
type SessionController struct {
	source    Source
	clock     clock.WithDelayedExecution
	logger    *zap.Logger
	vehicleID string
	timeout   time.Duration
	interval  time.Duration
	capacity  int

	mu               sync.Mutex
	status           *statusMachine
	listeners        []Listener
	running          bool
	generation       uint64
	sessionID        string
	sourceURL        string
	startedAt        time.Time
	opened           bool
	reading          *models.Reading
	history          []models.HistoryEntry
	lastHistoryWrite time.Time
	lastUpdate       time.Time
	cancel           context.CancelFunc
	timer            clock.Timer
	done             chan struct{}
}

// NewSessionController creates a session controller reading from source
func NewSessionController(cfg *config.Config, source Source, logger *zap.Logger, opts ...SessionOption) *SessionController {
	c := &SessionController{
		source:    source,
		clock:     clock.RealClock{},
		logger:    logger,
		vehicleID: cfg.VehicleID,
		timeout:   cfg.ConnectionTimeout,
		interval:  cfg.HistoryInterval,
		capacity:  cfg.HistoryCapacity,
		status:    newStatusMachine(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddListener registers l for every subsequent session event
func (c *SessionController) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Start begins a new session against sourceURL. A running session is
// stopped first. The subscription runs until Stop, ctx cancellation or a
// channel error.
func (c *SessionController) Start(ctx context.Context, sourceURL string) {
	c.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	gen := c.generation

	c.running = true
	c.sessionID = uuid.NewString()
	c.sourceURL = sourceURL
	c.startedAt = c.clock.Now()
	c.opened = false
	c.reading = nil
	c.history = nil
	c.lastHistoryWrite = time.Time{}
	c.lastUpdate = time.Time{}
	c.transitionLocked(EventRestart)

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.timer = c.clock.AfterFunc(c.timeout, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.currentLocked(gen) {
			return
		}
		c.onConnectionTimeoutLocked()
	})

	done := make(chan struct{})
	c.done = done
	handler := &subscription{controller: c, generation: gen}

	c.logger.Info("Telemetry session started",
		zap.String("session_id", c.sessionID),
		zap.String("source", sourceURL),
		zap.Duration("connection_timeout", c.timeout))
	c.emitLocked(models.EventStatus, nil)

	go func() {
		defer close(done)
		defer cancel()

		err := c.source.Subscribe(subCtx, sourceURL, handler)
		if err == nil || subCtx.Err() != nil {
			return
		}
		handler.OnError(err)
	}()
}

// Stop closes the subscription and cancels any pending timer. It is safe to
// call more than once.
func (c *SessionController) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	// Late callbacks from the old subscription are ignored from now on
	c.generation++
	c.stopTimerLocked()
	c.closeSubscriptionLocked()
	done := c.done
	c.done = nil
	sessionID := c.sessionID
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(stopTimeout):
			c.logger.Warn("Telemetry subscription did not stop in time",
				zap.String("session_id", sessionID))
		}
	}

	c.logger.Info("Telemetry session stopped", zap.String("session_id", sessionID))
}

// OnOpen marks the channel live and cancels the connection timer
func (c *SessionController) OnOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.onOpenLocked()
}

// OnMessage ingests one raw payload
func (c *SessionController) OnMessage(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.onMessageLocked(payload)
}

// OnError closes the subscription and falls back
func (c *SessionController) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.onErrorLocked(err)
}

// OnConnectionTimeout falls back when the channel never opened in time
func (c *SessionController) OnConnectionTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.onConnectionTimeoutLocked()
}

// State returns a snapshot of the session
func (c *SessionController) State() models.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// History returns a copy of the recorded readings, oldest first
func (c *SessionController) History() []models.HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyHistoryLocked()
}

func (c *SessionController) onOpenLocked() {
	c.opened = true
	c.stopTimerLocked()
	c.transitionLocked(EventOpen)
	c.emitLocked(models.EventStatus, nil)
}

func (c *SessionController) onMessageLocked(payload []byte) {
	reading, valid, err := models.DecodePayload(payload)
	if err != nil {
		MessagesTotal.WithLabelValues("malformed").Inc()
		c.logger.Warn("Discarding malformed telemetry payload",
			zap.String("session_id", c.sessionID),
			zap.Int("bytes", len(payload)),
			zap.Error(err))
		return
	}

	if !valid {
		MessagesTotal.WithLabelValues("empty").Inc()
		c.logger.Debug("Empty telemetry payload, applying fallback",
			zap.String("session_id", c.sessionID))
		c.applyFallbackLocked("empty_payload")
		c.transitionLocked(EventEmpty)
		c.emitLocked(models.EventFallback, nil)
		return
	}

	MessagesTotal.WithLabelValues("valid").Inc()
	c.stopTimerLocked()
	c.reading = &reading
	c.lastUpdate = c.clock.Now()
	c.transitionLocked(EventData)
	c.emitLocked(models.EventReading, nil)

	if entry, ok := c.appendHistory(reading); ok {
		c.emitLocked(models.EventHistory, &entry)
	}
}

func (c *SessionController) onErrorLocked(err error) {
	c.stopTimerLocked()
	c.closeSubscriptionLocked()
	// The closed subscription may not deliver anything else
	c.generation++

	event := EventDisconnect
	if !c.opened {
		event = EventUnreachable
	}

	c.logger.Error("Telemetry channel failed",
		zap.String("session_id", c.sessionID),
		zap.String("source", c.sourceURL),
		zap.Bool("was_open", c.opened),
		zap.Error(err))

	c.applyFallbackLocked("channel_error")
	c.transitionLocked(event)
	c.emitLocked(models.EventFallback, nil)
}

func (c *SessionController) onConnectionTimeoutLocked() {
	c.timer = nil

	changed, err := c.status.fire(EventTimeout)
	if err != nil {
		c.logger.Error("Connection status transition failed", zap.String("event", EventTimeout), zap.Error(err))
		return
	}
	if !changed && c.status.Status() == models.StatusLive {
		return
	}

	c.logger.Warn("No telemetry connection within timeout, applying fallback",
		zap.String("session_id", c.sessionID),
		zap.Duration("timeout", c.timeout))

	c.applyFallbackLocked("connection_timeout")
	recordStatus(c.status.Status())
	c.emitLocked(models.EventFallback, nil)
}

// appendHistory records reading if the write interval has elapsed since the
// previous write. Only valid, non-fallback readings may be passed.
func (c *SessionController) appendHistory(reading models.Reading) (models.HistoryEntry, bool) {
	if reading.Fallback {
		return models.HistoryEntry{}, false
	}

	now := c.clock.Now()
	if !c.lastHistoryWrite.IsZero() && now.Sub(c.lastHistoryWrite) < c.interval {
		HistoryWritesTotal.WithLabelValues("throttled").Inc()
		return models.HistoryEntry{}, false
	}

	entry := models.HistoryEntry{Timestamp: now, Reading: reading}
	c.history = append(c.history, entry)

	// Maintain capacity
	if len(c.history) > c.capacity {
		c.history = c.history[len(c.history)-c.capacity:]
	}
	c.lastHistoryWrite = now

	HistoryWritesTotal.WithLabelValues("appended").Inc()
	HistorySize.Set(float64(len(c.history)))
	return entry, true
}

func (c *SessionController) applyFallbackLocked(reason string) {
	fallback := models.FallbackReading()
	c.reading = &fallback
	FallbacksTotal.WithLabelValues(reason).Inc()
}

func (c *SessionController) transitionLocked(event string) {
	if _, err := c.status.fire(event); err != nil {
		c.logger.Error("Connection status transition failed",
			zap.String("event", event),
			zap.String("status", string(c.status.Status())),
			zap.Error(err))
		return
	}
	recordStatus(c.status.Status())
}

func (c *SessionController) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *SessionController) closeSubscriptionLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *SessionController) currentLocked(gen uint64) bool {
	return c.running && gen == c.generation
}

func (c *SessionController) copyHistoryLocked() []models.HistoryEntry {
	history := make([]models.HistoryEntry, len(c.history))
	copy(history, c.history)
	return history
}

func (c *SessionController) snapshotLocked() models.SessionState {
	state := models.SessionState{
		SessionID:      c.sessionID,
		VehicleID:      c.vehicleID,
		Source:         c.sourceURL,
		Status:         c.status.Status(),
		Classification: models.Classify(c.reading),
		History:        c.copyHistoryLocked(),
		StartedAt:      c.startedAt,
	}
	if c.reading != nil {
		reading := *c.reading
		state.Reading = &reading
	}
	if !c.lastUpdate.IsZero() {
		lastUpdate := c.lastUpdate
		state.LastUpdate = &lastUpdate
	}
	return state
}

func (c *SessionController) emitLocked(eventType models.SessionEventType, entry *models.HistoryEntry) {
	if len(c.listeners) == 0 {
		return
	}
	event := models.SessionEvent{
		Type:  eventType,
		State: c.snapshotLocked(),
		Entry: entry,
	}
	for _, l := range c.listeners {
		l(event)
	}
}

// subscription binds source callbacks to the session generation that
// created them
type subscription struct {
	controller *SessionController
	generation uint64
}

func (s *subscription) OnOpen() {
	c := s.controller
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(s.generation) {
		return
	}
	c.onOpenLocked()
}

func (s *subscription) OnMessage(payload []byte) {
	c := s.controller
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(s.generation) {
		return
	}
	c.onMessageLocked(payload)
}

func (s *subscription) OnError(err error) {
	c := s.controller
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(s.generation) {
		return
	}
	c.onErrorLocked(err)
}

// ForwardEvents returns a Listener that hands events of the given types to
// ch without blocking. Events are dropped when ch is full.
func ForwardEvents(consumer string, ch chan<- models.SessionEvent, types ...models.SessionEventType) Listener {
	wanted := make(map[models.SessionEventType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	return func(event models.SessionEvent) {
		if len(wanted) > 0 && !wanted[event.Type] {
			return
		}
		select {
		case ch <- event:
		default:
			EventsDroppedTotal.WithLabelValues(consumer).Inc()
		}
	}
}
