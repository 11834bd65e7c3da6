package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"rotasave.org/internal/auth"
	"rotasave.org/internal/rosca"
)

// Stream serves engine events as Server-Sent Events. ?group=<id> narrows the
// stream to one group.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	if !a.authorize(w, r, auth.PermGroupRead) {
		return
	}

	var groupFilter *uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("group")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "group must be a non-negative integer")
			return
		}
		groupFilter = &id
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var ch <-chan rosca.Event
	if groupFilter != nil {
		ch = a.stream.SubscribeGroup(ctx, *groupFilter)
	} else {
		ch = a.stream.Subscribe(ctx)
	}

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Kind, payload)
		flusher.Flush()
	}
}
