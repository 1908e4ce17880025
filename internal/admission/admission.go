// internal/admission/admission.go
//
// Admission control for heavyweight model invocations. Requests pass
// straight through while headroom allows; under pressure they join a
// FIFO queue and get position feedback as predecessors finish or
// cancel. One mutex region covers the signal sample and the decision,
// so concurrent requests cannot both claim the last slot.

package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ajankowski/colloquy/internal/resource"
)

// recentRingSize bounds the kept decision history.
const recentRingSize = 16

// Ticket represents one request's place in the system.
type Ticket struct {
	ID         string
	Requester  string
	EnqueuedAt time.Time

	c          *Controller
	admittedCh chan struct{}
	positionCh chan int
	cancelled  bool
	admitted   bool
	released   bool
}

// Admitted reports whether the ticket holds a slot.
func (t *Ticket) Admitted() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	return t.admitted
}

// Updates delivers queue-position changes (1 = next in line). The
// channel is closed on admission or cancellation.
func (t *Ticket) Updates() <-chan int { return t.positionCh }

// Request asks for admission.
type Request struct {
	Requester string
	// Bypass skips the gate entirely; reserved for operator overrides.
	Bypass bool
}

// Logger is the minimal logging dependency.
type Logger interface {
	Printf(format string, args ...any)
}

// Controller serializes admission decisions.
type Controller struct {
	mu sync.Mutex

	signal      resource.Signal
	minFreeMB   int
	maxAdmitted int

	admitted int
	queue    []*Ticket
	recent   []string
	logger   Logger
}

// Options configures a Controller.
type Options struct {
	// MinFreeMB is the headroom floor; a known reading below it drops
	// capacity to zero. Zero disables the resource gate.
	MinFreeMB int
	// MaxAdmitted bounds concurrent admissions; defaults to 1.
	MaxAdmitted int
	Logger      Logger
}

// NewController creates a controller over the given signal.
func NewController(signal resource.Signal, opts Options) *Controller {
	maxAdmitted := opts.MaxAdmitted
	if maxAdmitted < 1 {
		maxAdmitted = 1
	}
	return &Controller{
		signal:      signal,
		minFreeMB:   opts.MinFreeMB,
		maxAdmitted: maxAdmitted,
		logger:      opts.Logger,
	}
}

// Acquire makes one admission decision. The returned ticket is either
// already admitted or queued; queued callers use Wait.
func (c *Controller) Acquire(req Request) *Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()

	ticket := &Ticket{
		ID:         uuid.NewString(),
		Requester:  req.Requester,
		EnqueuedAt: time.Now(),
		c:          c,
		admittedCh: make(chan struct{}),
		positionCh: make(chan int, 8),
	}

	if req.Bypass || c.admitted < c.capacityLocked() {
		c.admitLocked(ticket, req.Bypass)
		return ticket
	}

	c.queue = append(c.queue, ticket)
	c.note("queued %s at position %d", ticket.Requester, len(c.queue))
	ticket.notifyPosition(len(c.queue))
	return ticket
}

// Wait blocks until the ticket is admitted or the context ends. A
// context cancellation withdraws the ticket from the queue with no
// side effects on anyone else's position except moving them up.
func (c *Controller) Wait(ctx context.Context, ticket *Ticket) error {
	if ticket.Admitted() {
		return nil
	}
	select {
	case <-ticket.admittedCh:
		return nil
	case <-ctx.Done():
		c.Cancel(ticket)
		return ctx.Err()
	}
}

// Release frees the ticket's slot and promotes the queue head if
// headroom allows.
func (c *Controller) Release(ticket *Ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ticket.admitted || ticket.released {
		return
	}
	ticket.released = true
	c.admitted--
	c.note("released %s", ticket.Requester)
	c.promoteLocked()
}

// Cancel withdraws a queued ticket. Cancelling an admitted ticket is a
// release.
func (c *Controller) Cancel(ticket *Ticket) {
	c.mu.Lock()
	if ticket.admitted {
		c.mu.Unlock()
		c.Release(ticket)
		return
	}
	for i, queued := range c.queue {
		if queued == ticket {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			ticket.cancelled = true
			close(ticket.positionCh)
			c.note("cancelled %s", ticket.Requester)
			c.renumberLocked()
			break
		}
	}
	c.mu.Unlock()
}

// Poll re-samples the resource signal and promotes waiters that now
// fit. Call it periodically; headroom can recover without a release.
func (c *Controller) Poll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.promoteLocked()
}

// QueueLength reports current waiters.
func (c *Controller) QueueLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Recent returns the kept decision history, oldest first.
func (c *Controller) Recent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.recent))
	copy(out, c.recent)
	return out
}

// capacityLocked derives the concurrent-admission limit from the
// resource signal.
func (c *Controller) capacityLocked() int {
	if c.minFreeMB <= 0 || c.signal == nil {
		return c.maxAdmitted
	}
	profile := c.signal.Headroom()
	if profile.Known && profile.FreeMB < c.minFreeMB {
		return 0
	}
	return c.maxAdmitted
}

func (c *Controller) admitLocked(ticket *Ticket, bypass bool) {
	ticket.admitted = true
	c.admitted++
	close(ticket.admittedCh)
	close(ticket.positionCh)
	if bypass {
		c.note("admitted %s (bypass)", ticket.Requester)
		return
	}
	c.note("admitted %s", ticket.Requester)
}

func (c *Controller) promoteLocked() {
	for len(c.queue) > 0 && c.admitted < c.capacityLocked() {
		head := c.queue[0]
		c.queue = c.queue[1:]
		c.admitLocked(head, false)
	}
	c.renumberLocked()
}

func (c *Controller) renumberLocked() {
	for i, ticket := range c.queue {
		ticket.notifyPosition(i + 1)
	}
}

func (t *Ticket) notifyPosition(pos int) {
	select {
	case t.positionCh <- pos:
	default:
	}
}

func (c *Controller) note(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	c.recent = append(c.recent, line)
	if len(c.recent) > recentRingSize {
		c.recent = c.recent[len(c.recent)-recentRingSize:]
	}
	if c.logger != nil {
		c.logger.Printf("admission: %s", line)
	}
}
