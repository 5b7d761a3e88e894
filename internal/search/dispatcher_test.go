package search

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veganagain/internal/restaurants"
)

type recorder struct {
	mu        sync.Mutex
	searched  []string
	delivered []Response
	got       chan Response
}

func newRecorder() *recorder {
	return &recorder{got: make(chan Response, 16)}
}

func (r *recorder) deliver(resp Response) {
	r.mu.Lock()
	r.delivered = append(r.delivered, resp)
	r.mu.Unlock()
	r.got <- resp
}

func (r *recorder) search(_ context.Context, text string) restaurants.SearchResult {
	r.mu.Lock()
	r.searched = append(r.searched, text)
	r.mu.Unlock()
	return restaurants.SearchResult{Success: true}
}

func waitFor(t *testing.T, ch <-chan Response) Response {
	t.Helper()
	select {
	case resp := <-ch:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a delivery")
		return Response{}
	}
}

func TestDispatcherDebounces(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	d := NewDispatcher(context.Background(), 50*time.Millisecond, rec.search, rec.deliver)

	d.Submit(Request{Seq: 1, Text: "김"})
	d.Submit(Request{Seq: 2, Text: "김밥"})
	d.Submit(Request{Seq: 3, Text: "김밥천국"})

	resp := waitFor(t, rec.got)
	d.Close()
	assert.Equal(t, int64(3), resp.Seq)
	assert.Equal(t, "김밥천국", resp.Text)
	assert.Equal(t, []string{"김밥천국"}, rec.searched)
	assert.Len(t, rec.delivered, 1)
}

func TestDispatcherCancelsStaleSearch(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	started := make(chan struct{})
	canceled := make(chan struct{})
	search := func(ctx context.Context, text string) restaurants.SearchResult {
		if text == "slow" {
			close(started)
			<-ctx.Done()
			close(canceled)
			// a late reply that must never reach the client.
			return restaurants.SearchResult{Success: true, Count: 99}
		}
		return rec.search(ctx, text)
	}
	d := NewDispatcher(context.Background(), time.Millisecond, search, rec.deliver)
	defer d.Close()

	d.Submit(Request{Seq: 1, Text: "slow"})
	<-started
	d.Submit(Request{Seq: 2, Text: "fast"})

	resp := waitFor(t, rec.got)
	assert.Equal(t, int64(2), resp.Seq)
	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("stale search was not canceled")
	}
	d.Close()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.delivered, 1)
	assert.NotEqual(t, 99, rec.delivered[0].Result.Count)
}

func TestDispatcherIgnoresOlderSequence(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	d := NewDispatcher(context.Background(), 10*time.Millisecond, rec.search, rec.deliver)
	d.Submit(Request{Seq: 5, Text: "new"})
	d.Submit(Request{Seq: 4, Text: "old"})
	resp := waitFor(t, rec.got)
	d.Close()
	assert.Equal(t, int64(5), resp.Seq)
	assert.Equal(t, []string{"new"}, rec.searched)
}

func TestDispatcherCloseDropsPending(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	d := NewDispatcher(context.Background(), time.Hour, rec.search, rec.deliver)
	d.Submit(Request{Seq: 1, Text: "never"})
	d.Close()
	d.Submit(Request{Seq: 2, Text: "after close"})
	assert.Empty(t, rec.searched)
	assert.Empty(t, rec.delivered)
}
