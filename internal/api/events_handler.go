package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/bridgeq/internal/httpserve"
)

const sseKeepAlive = 15 * time.Second

// handleEvents handles GET /events. ?types=queue,task-status narrows the
// stream; Last-Event-ID replays buffered events first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	want := parseTypes(r.URL.Query().Get("types"))

	// Subscribe before the snapshot so nothing published in between is lost.
	ch, cancel := s.deps.Events.Subscribe()
	defer cancel()

	stream, err := httpserve.OpenStream(w)
	if err != nil {
		httpserve.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	lastID := parseLastEventID(r.Header.Get("Last-Event-ID"))
	for _, ev := range s.deps.Events.SnapshotSince(lastID) {
		if !want(ev.Type) {
			continue
		}
		if err := stream.Send(ev.ID, ev.Type, ev.Data); err != nil {
			return
		}
		lastID = ev.ID
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.ID <= lastID || !want(ev.Type) {
				continue
			}
			if err := stream.Send(ev.ID, ev.Type, ev.Data); err != nil {
				return
			}
		case <-keepAlive.C:
			if err := stream.Ping(); err != nil {
				return
			}
		}
	}
}

func parseTypes(v string) func(string) bool {
	if v == "" {
		return func(string) bool { return true }
	}
	set := map[string]bool{}
	for _, t := range strings.Split(v, ",") {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = true
		}
	}
	return func(t string) bool { return set[t] }
}

func parseLastEventID(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
