package restapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"smartstop.transitwatch.org/internal/utils"
)

// stopLiveHandler streams live updates for a single stop over server-sent
// events. The first event is always a full snapshot.
func (api *RestAPI) stopLiveHandler(w http.ResponseWriter, r *http.Request) {
	stopID := utils.ExtractIDFromParams(r, "id")

	if err := utils.ValidateID(stopID); err != nil {
		api.validationErrorResponse(w, r, map[string][]string{
			"id": {err.Error()},
		})
		return
	}
	if !api.Schedule.HasStop(stopID) {
		api.sendNotFound(w, r)
		return
	}

	api.streamStops(w, r, []string{stopID})
}

// maxLiveStops bounds a single stream's subscription list.
const maxLiveStops = 32

// liveHandler streams updates for multiple stops at once, selected with
// ?stops=S1,S2.
func (api *RestAPI) liveHandler(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("stops")
	if raw == "" {
		api.validationErrorResponse(w, r, map[string][]string{
			"stops": {"at least one stop id is required"},
		})
		return
	}

	stopIDs := strings.Split(raw, ",")
	if len(stopIDs) > maxLiveStops {
		api.validationErrorResponse(w, r, map[string][]string{
			"stops": {fmt.Sprintf("at most %d stops per stream", maxLiveStops)},
		})
		return
	}
	for _, stopID := range stopIDs {
		if err := utils.ValidateID(stopID); err != nil {
			api.validationErrorResponse(w, r, map[string][]string{
				"stops": {fmt.Sprintf("%q: %s", stopID, err.Error())},
			})
			return
		}
		if !api.Schedule.HasStop(stopID) {
			api.sendNotFound(w, r)
			return
		}
	}

	api.streamStops(w, r, stopIDs)
}

func (api *RestAPI) streamStops(w http.ResponseWriter, r *http.Request, stopIDs []string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		api.serverErrorResponse(w, r, fmt.Errorf("streaming unsupported by connection"))
		return
	}

	sub := api.Hub.Subscribe(stopIDs...)
	defer api.Hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-sub.C:
			if !open {
				// Dropped as a slow consumer; the client should reconnect.
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				api.Logger.Error("failed to encode stop event", "stop_id", event.StopID, "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Kind, payload)
			flusher.Flush()
		}
	}
}
