package restapi

import (
	"net/http"
	"time"

	"smartstop.transitwatch.org/internal/models"
)

type healthStatus struct {
	Status            string    `json:"status"`
	ScheduleDegraded  bool      `json:"scheduleDegraded"`
	PredictorDegraded bool      `json:"predictorDegraded"`
	LastFeedFetch     time.Time `json:"lastFeedFetch"`
	Env               string    `json:"env"`
}

// healthHandler reports liveness plus the degraded-mode indicators. It stays
// 200 while degraded: the process is serving, just on older data.
func (api *RestAPI) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{
		Status:            "ok",
		ScheduleDegraded:  api.Schedule.Degraded(),
		PredictorDegraded: api.Predictor.Degraded(),
		LastFeedFetch:     api.Schedule.LastFetch(),
		Env:               api.Config.Env.String(),
	}
	if status.ScheduleDegraded || status.PredictorDegraded {
		status.Status = "degraded"
	}

	api.sendResponse(w, r, models.NewOKResponse(status))
}
