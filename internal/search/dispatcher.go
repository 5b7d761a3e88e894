// Package search serves the home page: the filter panel, the result list,
// the map payload and the geolocation endpoints that feed it.
package search

import (
	"context"
	"sync"
	"time"

	"veganagain/internal/restaurants"
)

// DefaultDebounce is how long typing must pause before a live search runs.
const DefaultDebounce = 250 * time.Millisecond

type Request struct {
	Seq  int64  `json:"seq"`
	Text string `json:"text"`
}

type Response struct {
	Seq    int64
	Text   string
	Result restaurants.SearchResult
}

// SearchFunc runs one search. It must honor ctx cancellation.
type SearchFunc func(ctx context.Context, text string) restaurants.SearchResult

// Dispatcher turns a stream of keystroke requests into searches. Requests
// are debounced, a newer request cancels the one in flight, and a result is
// only delivered if nothing newer was submitted meanwhile. Sequence numbers
// must grow; anything not newer than the last submitted one is ignored.
type Dispatcher struct {
	ctx     context.Context
	search  SearchFunc
	deliver func(Response)
	delay   time.Duration

	mu     sync.Mutex
	latest int64
	timer  *time.Timer
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup

	sendMu sync.Mutex
	sent   int64
}

func NewDispatcher(ctx context.Context, delay time.Duration, search SearchFunc, deliver func(Response)) *Dispatcher {
	return &Dispatcher{ctx: ctx, delay: delay, search: search, deliver: deliver}
}

// Submit schedules req, replacing anything pending or running.
func (d *Dispatcher) Submit(req Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || req.Seq <= d.latest {
		return
	}
	d.latest = req.Seq
	if d.timer != nil && d.timer.Stop() {
		d.wg.Done()
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Add(1)
	d.timer = time.AfterFunc(d.delay, func() {
		defer d.wg.Done()
		d.run(req)
	})
}

func (d *Dispatcher) run(req Request) {
	d.mu.Lock()
	if d.closed || req.Seq != d.latest {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(d.ctx)
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()

	res := d.search(ctx, req.Text)
	if ctx.Err() != nil || !d.current(req.Seq) {
		return
	}

	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	if req.Seq <= d.sent {
		return
	}
	d.sent = req.Seq
	d.deliver(Response{Seq: req.Seq, Text: req.Text, Result: res})
}

func (d *Dispatcher) current(seq int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed && seq == d.latest
}

// Close cancels pending work and waits for running searches to return.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	if d.timer != nil && d.timer.Stop() {
		// the callback will never run.
		d.wg.Done()
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()
	d.wg.Wait()
}
