package presaled

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/rados-io/saturn-presale/core/types"
	"github.com/rados-io/saturn-presale/integrations/audit"
)

type streamMessage struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// handleStream pushes ledger events to a websocket client. An optional
// comma-separated "types" query filters the feed.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	filter := parseTypeFilter(r.URL.Query().Get("types"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	updates, cancel := s.hub.Subscribe()
	defer cancel()
	// Reads are only needed to observe the client closing the socket.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, updates, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, updates <-chan *types.Event, filter map[string]struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if len(filter) > 0 {
				if _, keep := filter[evt.Type]; !keep {
					continue
				}
			}
			if err := s.writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(streamMessage{Type: evt.Type, Attributes: evt.Attributes})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func parseTypeFilter(raw string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out[part] = struct{}{}
		}
	}
	return out
}

type eventView struct {
	Sequence   uint64            `json:"sequence"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  string            `json:"createdAt"`
}

// handleEvents serves the persisted audit trail.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, "audit_disabled", errors.New("audit store not configured"))
		return
	}
	query := r.URL.Query()
	q := audit.Query{
		Type:    strings.TrimSpace(query.Get("type")),
		Subject: strings.TrimSpace(query.Get("subject")),
	}
	var err error
	if raw := query.Get("grant"); raw != "" {
		if q.GrantID, err = strconv.ParseUint(raw, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", errBadRequest)
			return
		}
	}
	if raw := query.Get("after"); raw != "" {
		if q.AfterSequence, err = strconv.ParseUint(raw, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", errBadRequest)
			return
		}
	}
	if raw := query.Get("limit"); raw != "" {
		if q.Limit, err = strconv.Atoi(raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", errBadRequest)
			return
		}
	}
	records, err := s.audit.List(r.Context(), q)
	if err != nil {
		s.writeLedgerError(w, "events", err)
		return
	}
	views := make([]eventView, 0, len(records))
	for _, rec := range records {
		attrs, err := rec.DecodeAttributes()
		if err != nil {
			s.writeLedgerError(w, "events", err)
			return
		}
		views = append(views, eventView{
			Sequence:   rec.Sequence,
			ID:         rec.ID.String(),
			Type:       rec.Type,
			Attributes: attrs,
			CreatedAt:  rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": views})
}
