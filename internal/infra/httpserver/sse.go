package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func writeEvent(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// GET /v1/batches/{id}/events
// Server-sent events: satu "snapshot" per transisi, lalu "done" waktu run selesai.
func (r *Router) handleBatchEvents(w http.ResponseWriter, req *http.Request) error {
	run, err := r.batches.Get(chi.URLParam(req, "id"))
	if err != nil {
		return err
	}
	rc := http.NewResponseController(w)

	snaps, cancel := run.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// headers are out, from here on errors are only logged
	for {
		select {
		case <-req.Context().Done():
			return nil
		case s, ok := <-snaps:
			event := "snapshot"
			if !ok {
				event, s = "done", run.Snapshot()
			}
			if err := writeEvent(w, event, s); err != nil {
				r.logger.Debug("event stream closed", "batch_id", run.ID(), "err", err)
				return nil
			}
			if err := rc.Flush(); err != nil {
				r.logger.Debug("event stream flush failed", "batch_id", run.ID(), "err", err)
				return nil
			}
			if !ok {
				return nil
			}
		}
	}
}
