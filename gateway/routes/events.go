package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"vestchain/indexer"
)

const wsWriteTimeout = 10 * time.Second

type eventsResponse struct {
	Events []indexer.EventRecord `json:"events"`
	Next   uint64                `json:"next"`
}

func parseFilter(r *http.Request) (indexer.Filter, error) {
	q := r.URL.Query()
	filter := indexer.Filter{
		Type:        strings.TrimSpace(q.Get("type")),
		Beneficiary: strings.TrimSpace(q.Get("beneficiary")),
	}
	if raw := strings.TrimSpace(q.Get("after")); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid after cursor %q", raw)
		}
		filter.After = after
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("invalid limit %q", raw)
		}
		filter.Limit = limit
	}
	return filter, nil
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, errEventsOffline)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	records, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list events", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	next := filter.After
	if len(records) > 0 {
		next = records[len(records)-1].Sequence
	}
	if records == nil {
		records = []indexer.EventRecord{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: records, Next: next})
}

// handleEventStream replays events after the optional cursor and then
// follows the live feed. Filters apply to both phases.
func (s *server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, errEventsOffline)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *server) streamEvents(ctx context.Context, conn *websocket.Conn, filter indexer.Filter) error {
	live, cancel := s.events.Subscribe()
	defer cancel()

	cursor := filter.After
	for {
		page := filter
		page.After = cursor
		page.Limit = 0
		backlog, err := s.events.List(ctx, page)
		if err != nil {
			return err
		}
		for _, rec := range backlog {
			if err := writeRecord(ctx, conn, rec); err != nil {
				return err
			}
			cursor = rec.Sequence
		}
		if len(backlog) == 0 {
			break
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-live:
			if !ok {
				return nil
			}
			if rec.Sequence <= cursor || !matches(filter, rec) {
				continue
			}
			if err := writeRecord(ctx, conn, rec); err != nil {
				return err
			}
			cursor = rec.Sequence
		}
	}
}

func matches(filter indexer.Filter, rec indexer.EventRecord) bool {
	if filter.Type != "" && rec.Type != filter.Type {
		return false
	}
	if filter.Beneficiary != "" && rec.Beneficiary != filter.Beneficiary {
		return false
	}
	return true
}

func writeRecord(ctx context.Context, conn *websocket.Conn, rec indexer.EventRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, errEventsOffline)
		return
	}
	manifest, err := s.exporter(r.Context())
	if err != nil {
		s.logger.Error("export events", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("events exported", "rows", manifest.Rows, "csv", manifest.CSVPath, "parquet", manifest.ParquetPath)
	writeJSON(w, http.StatusOK, manifest)
}
