// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package blkmq

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/asch/ramblk/internal/ramdisk"
)

// Status of a completed request.
type Status int

const (
	StatusOK Status = iota

	// Fewer bytes than requested were transferred.
	StatusShort

	StatusIOErr
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusShort:
		return "short"
	case StatusIOErr:
		return "ioerr"
	}

	return "unknown"
}

// Completion of one request.
type Completion struct {
	Requested   int
	Transferred int
	Status      Status

	// Error returned by the dispatcher, if any.
	Err error
}

// PDUDispatcher is implemented by dispatchers interested in the auxiliary
// storage of the request. The pdu is zeroed before every dispatch and is of
// TagSetConfig.CmdSize bytes.
type PDUDispatcher interface {
	DispatchPDU(req ramdisk.Request, pdu []byte) (int, error)
}

// SubmitOptions select how a request is queued.
type SubmitOptions struct {
	// Hardware context the request is queued on, modulo the number of
	// contexts.
	Context int

	// Priority requests are served before any normal request waiting on the
	// same context.
	Prio bool
}

// Queue dispatches requests to a Dispatcher on the hardware contexts of a
// TagSet.
type Queue struct {
	tagSet     *TagSet
	dispatcher ramdisk.Dispatcher
	hctxs      []*hctx

	// Guards dead against submitters entering the queue.
	mu   sync.RWMutex
	dead bool

	// Submitters inside the queue.
	users sync.WaitGroup

	workers sync.WaitGroup
	stop    chan struct{}
}

// Hardware context with its own worker.
type hctx struct {
	index  int
	tags   chan int
	pdus   [][]byte
	prio   chan *request
	normal chan *request
}

type request struct {
	req  ramdisk.Request
	tag  int
	done chan Completion
}

// InitQueue creates a queue on the tag set and starts its workers.
func (t *TagSet) InitQueue(d ramdisk.Dispatcher) (*Queue, error) {
	if err := t.acquire(); err != nil {
		return nil, err
	}

	q := &Queue{
		tagSet:     t,
		dispatcher: d,
		hctxs:      make([]*hctx, t.cfg.HWQueues),
		stop:       make(chan struct{}),
	}

	for i := range q.hctxs {
		q.hctxs[i] = &hctx{
			index:  i,
			tags:   t.tags[i],
			pdus:   t.pdus[i],
			prio:   make(chan *request),
			normal: make(chan *request),
		}

		q.workers.Add(1)
		go q.worker(q.hctxs[i])
	}

	return q, nil
}

// Submit queues req and waits for its completion. It blocks while all tags of
// the chosen context are in use, until ctx is done.
func (q *Queue) Submit(ctx context.Context, req ramdisk.Request, o SubmitOptions) (Completion, error) {
	if !q.enter() {
		return Completion{}, ErrQueueDead
	}
	defer q.users.Done()

	h := q.hctxs[mod(o.Context, len(q.hctxs))]

	var tag int
	select {
	case tag = <-h.tags:
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	}
	defer func() {
		h.tags <- tag
	}()

	c := h.normal
	if o.Prio {
		c = h.prio
	}

	r := &request{req: req, tag: tag, done: make(chan Completion, 1)}
	c <- r

	return <-r.done, nil
}

func (q *Queue) enter() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.dead {
		return false
	}
	q.users.Add(1)

	return true
}

// Cleanup stops accepting requests, waits until all submitted requests
// complete and stops the workers. It is safe to call more than once.
func (q *Queue) Cleanup() {
	q.mu.Lock()
	if q.dead {
		q.mu.Unlock()
		return
	}
	q.dead = true
	q.mu.Unlock()

	q.users.Wait()

	close(q.stop)
	q.workers.Wait()

	q.tagSet.release()
}

// Generic function for prioritization. Priority requests are always taken
// first if there are any waiting.
func (q *Queue) receiveRequest(h *hctx) (*request, bool) {
	var r *request

	select {
	case r = <-h.prio:
	default:
		select {
		case r = <-h.prio:
		case r = <-h.normal:
		case <-q.stop:
			return nil, false
		}
	}

	return r, true
}

// Worker of one hardware context. It runs the dispatcher in the calling
// goroutine and completes the request.
func (q *Queue) worker(h *hctx) {
	defer q.workers.Done()

	for {
		r, ok := q.receiveRequest(h)
		if !ok {
			return
		}

		log.Trace().Int("hctx", h.index).Int("tag", r.tag).Uint64("sector", r.req.Sector).Msgf("Request %s start", r.req.Op)

		var n int
		var err error
		if pd, ok := q.dispatcher.(PDUDispatcher); ok {
			pdu := h.pdus[r.tag]
			for i := range pdu {
				pdu[i] = 0
			}
			n, err = pd.DispatchPDU(r.req, pdu)
		} else {
			n, err = q.dispatcher.Dispatch(r.req)
		}

		log.Trace().Int("hctx", h.index).Int("tag", r.tag).Msgf("Request processed %d bytes", n)

		r.done <- complete(r.req.Len(), n, err)
	}
}

func complete(requested, transferred int, err error) Completion {
	c := Completion{
		Requested:   requested,
		Transferred: transferred,
		Err:         err,
	}

	switch {
	case err != nil:
		c.Status = StatusIOErr
	case transferred < requested:
		c.Status = StatusShort
	default:
		c.Status = StatusOK
	}

	return c
}

func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}

	return m
}
