package restapi

import (
	"net/http"

	"smartstop.transitwatch.org/internal/models"
	"smartstop.transitwatch.org/internal/utils"
)

// arrivalsHandler returns the current arrival estimates for a stop, soonest
// first. Routes without live vehicles still appear with schedule-only
// confidence; routes with no remaining service today are omitted.
func (api *RestAPI) arrivalsHandler(w http.ResponseWriter, r *http.Request) {
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

	estimates, err := api.Predictor.EstimatesForStop(r.Context(), stopID)
	if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}
	if estimates == nil {
		estimates = []models.ArrivalEstimate{}
	}

	api.sendResponse(w, r, models.NewListResponse(estimates, false))
}
