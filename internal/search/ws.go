package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"veganagain/internal/restaurants"
	"veganagain/internal/session"
	"veganagain/internal/templates"
)

type socketReply struct {
	Seq  int64  `json:"seq"`
	HTML string `json:"html"`
}

// handleSocket runs search-as-you-type. Each message carries the full input
// text and a growing sequence number; replies echo the sequence of the
// search that produced them.
func (s *server) handleSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := session.FromContext(ctx)
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		slog.WarnContext(ctx, "websocket upgrade failed", "error", err)
		return
	}
	sock := &socket{close: conn.Close}
	s.sockets.add(sock)
	defer s.sockets.remove(sock)
	defer conn.Close()

	// st is shared between the read loop and search deliveries.
	var stateMu, writeMu sync.Mutex
	search := func(ctx context.Context, text string) restaurants.SearchResult {
		stateMu.Lock()
		categories := st.Filters.Selected()
		stateMu.Unlock()
		return s.repo.Search(ctx, text, categories)
	}
	deliver := func(resp Response) {
		stateMu.Lock()
		st.Filters = st.Filters.SetSearchText(resp.Text)
		fit := false
		if resp.Result.Success {
			st.RememberResults(st.Filters, resp.Result.Restaurants)
			st.Map, fit = st.Map.OnResults(st.Filters.Key())
		}
		view := buildResults(st, resp.Result, fit)
		var buf bytes.Buffer
		err := templates.Results.Execute(&buf, view)
		if err == nil {
			err = s.store.Save(ctx, st)
		}
		stateMu.Unlock()
		if err != nil {
			slog.ErrorContext(ctx, "live search render failed", "error", err)
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := writeReply(conn, socketReply{Seq: resp.Seq, HTML: buf.String()}); err != nil {
			slog.WarnContext(ctx, "live search write failed", "error", err)
			_ = conn.Close()
		}
	}
	d := NewDispatcher(ctx, s.debounce, search, deliver)
	defer d.Close()

	for {
		msg, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !isClosed(err) {
				slog.WarnContext(ctx, "live search read failed", "error", err)
			}
			return
		}
		if op != ws.OpText {
			continue
		}
		var req Request
		if err := json.Unmarshal(msg, &req); err != nil {
			slog.WarnContext(ctx, "ignoring malformed live search message", "error", err)
			continue
		}
		d.Submit(req)
	}
}

func writeReply(conn net.Conn, reply socketReply) error {
	b, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	return wsutil.WriteServerMessage(conn, ws.OpText, b)
}

func isClosed(err error) bool {
	var closed wsutil.ClosedError
	return errors.As(err, &closed) || errors.Is(err, net.ErrClosed)
}
