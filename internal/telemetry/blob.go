package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/appendblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// BlobConfig ships JSON lines to an Azure append blob named
// YYYY/MM/DD/<host>.jsonl inside Container.
type BlobConfig struct {
	AccountName string
	AccountKey  string
	Container   string
	FlushEvery  time.Duration
}

func (c BlobConfig) Enabled() bool {
	return c.AccountName != "" && c.AccountKey != "" && c.Container != ""
}

func blobName(now time.Time, host string) string {
	return fmt.Sprintf("%d/%02d/%02d/%s.jsonl", now.Year(), now.Month(), now.Day(), host)
}

type appender interface {
	AppendBlock(ctx context.Context, body io.ReadSeekCloser, o *appendblob.AppendBlockOptions) (appendblob.AppendBlockResponse, error)
}

// BlobHandler is a slog.Handler that buffers records and appends them in
// batches. Records are dropped, not blocked on, when the buffer is full.
type BlobHandler struct {
	state *blobState
	// scope holds WithAttrs and WithGroup calls in order.
	scope []scopeStep
}

type scopeStep struct {
	group string
	attrs []slog.Attr
}

type blobState struct {
	ab     appender
	ch     chan []byte
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	flush  time.Duration
	closed bool
	mu     sync.RWMutex
}

func NewBlobHandler(ctx context.Context, cfg BlobConfig) (*BlobHandler, error) {
	if !cfg.Enabled() {
		return nil, errors.New("account name, key and container are required")
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, err
	}
	host, _ := os.Hostname()
	blobURL := "https://" + cfg.AccountName + ".blob.core.windows.net/" +
		url.PathEscape(cfg.Container) + "/" + blobName(time.Now().UTC(), host)
	ab, err := appendblob.NewClientWithSharedKeyCredential(blobURL, cred, nil)
	if err != nil {
		return nil, err
	}
	if _, err := ab.Create(ctx, nil); err != nil && !bloberror.HasCode(err, bloberror.BlobAlreadyExists) {
		return nil, fmt.Errorf("create log blob: %w", err)
	}
	return newBlobHandler(ab, cfg.FlushEvery), nil
}

func newBlobHandler(ab appender, flush time.Duration) *BlobHandler {
	if flush <= 0 {
		flush = 2 * time.Second
	}
	st := &blobState{ab: ab, ch: make(chan []byte, 1024), done: make(chan struct{}), flush: flush}
	st.wg.Add(1)
	go st.loop()
	return &BlobHandler{state: st}
}

// Close flushes what is buffered and stops the writer.
func (h *BlobHandler) Close() error {
	h.state.once.Do(func() {
		h.state.mu.Lock()
		h.state.closed = true
		close(h.state.done)
		h.state.mu.Unlock()
		h.state.wg.Wait()
	})
	return nil
}

func (h *BlobHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *BlobHandler) Handle(_ context.Context, r slog.Record) error {
	line, err := h.encode(r)
	if err != nil {
		return err
	}
	h.state.mu.RLock()
	defer h.state.mu.RUnlock()
	if h.state.closed {
		return nil
	}
	select {
	case h.state.ch <- line:
	default:
	}
	return nil
}

func (h *BlobHandler) encode(r slog.Record) ([]byte, error) {
	ev := map[string]any{}
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	ev["ts"] = ts.UTC().Format(time.RFC3339Nano)
	ev["level"] = r.Level.String()
	ev["msg"] = r.Message

	target := ev
	for _, step := range h.scope {
		if step.group != "" {
			next := map[string]any{}
			target[step.group] = next
			target = next
		}
		for _, a := range step.attrs {
			addAttr(target, a)
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(target, a)
		return true
	})

	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func addAttr(m map[string]any, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() != slog.KindGroup {
		v := a.Value.Any()
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		m[a.Key] = v
		return
	}
	inner := m
	if a.Key != "" {
		inner = map[string]any{}
		m[a.Key] = inner
	}
	for _, ga := range a.Value.Group() {
		addAttr(inner, ga)
	}
}

func (h *BlobHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &BlobHandler{state: h.state, scope: append(slices.Clone(h.scope), scopeStep{attrs: attrs})}
}

func (h *BlobHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &BlobHandler{state: h.state, scope: append(slices.Clone(h.scope), scopeStep{group: name})}
}

func (st *blobState) loop() {
	defer st.wg.Done()
	ticker := time.NewTicker(st.flush)
	defer ticker.Stop()
	var buf []byte
	write := func() {
		if len(buf) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = st.ab.AppendBlock(ctx, nopCloser{bytes.NewReader(buf)}, nil)
		buf = buf[:0]
	}
	for {
		select {
		case line := <-st.ch:
			buf = append(buf, line...)
		case <-ticker.C:
			write()
		case <-st.done:
			for {
				select {
				case line := <-st.ch:
					buf = append(buf, line...)
				default:
					write()
					return
				}
			}
		}
	}
}

type nopCloser struct{ io.ReadSeeker }

func (nopCloser) Close() error { return nil }
