package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoorelay/internal/metrics"
	"github.com/yoockh/yoorelay/internal/models"
	"github.com/yoockh/yoorelay/internal/utils"
)

type job struct {
	msg  *models.InboundMessage
	done func(error)
}

// actor owns the pending messages of one user. Only the actor's goroutine
// pops from queue; Submit appends under Dispatcher.mu.
type actor struct {
	queue []job
}

// Dispatcher runs messages of the same user one at a time, in arrival order,
// while different users proceed in parallel. Each active user gets a
// goroutine that exits once its queue drains.
type Dispatcher struct {
	handler Orchestrator
	timeout time.Duration
	log     *logrus.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher bounds each message by timeout; zero means no per-message
// deadline.
func NewDispatcher(handler Orchestrator, timeout time.Duration, log *logrus.Logger, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = logrus.New()
	}
	if m == nil {
		m = metrics.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handler: handler,
		timeout: timeout,
		log:     log,
		metrics: m,
		actors:  map[string]*actor{},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit queues msg behind any pending message of the same user. done, when
// non-nil, is called with Handle's result after the message is processed.
func (d *Dispatcher) Submit(msg *models.InboundMessage, done func(error)) error {
	const op = "Dispatcher.Submit"

	if msg == nil || msg.UserID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return utils.E(utils.CodeUnavailable, op, "dispatcher is shutting down", nil)
	}

	a, ok := d.actors[msg.UserID]
	if !ok {
		a = &actor{}
		d.actors[msg.UserID] = a
		d.wg.Add(1)
		d.metrics.ActiveSessions.Inc()
		go d.run(msg.UserID, a)
	}
	a.queue = append(a.queue, job{msg: msg, done: done})
	d.metrics.QueueDepth.Inc()
	return nil
}

// Active returns the number of users with pending or running work.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.actors)
}

func (d *Dispatcher) run(userID string, a *actor) {
	defer d.wg.Done()
	defer d.metrics.ActiveSessions.Dec()

	for {
		d.mu.Lock()
		if len(a.queue) == 0 {
			delete(d.actors, userID)
			d.mu.Unlock()
			return
		}
		j := a.queue[0]
		a.queue[0] = job{}
		a.queue = a.queue[1:]
		d.mu.Unlock()

		d.metrics.QueueDepth.Dec()
		err := d.handle(j.msg)
		if j.done != nil {
			j.done(err)
		}
	}
}

func (d *Dispatcher) handle(msg *models.InboundMessage) (err error) {
	ctx := d.ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(logrus.Fields{
				"user":       utils.Suffix(msg.UserID, 10),
				"message_id": msg.ID,
				"panic":      r,
			}).Error("handler panicked")
			err = utils.E(utils.CodeInternal, "Dispatcher.handle", "handler panicked", fmt.Errorf("%v", r))
		}
	}()

	return d.handler.Handle(ctx, msg)
}

// Shutdown stops accepting messages and waits for queued work to finish. If
// ctx expires first, in-flight handlers are cancelled and ctx's error is
// returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
