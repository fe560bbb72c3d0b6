package restapi

import (
	"net/http"

	"smartstop.transitwatch.org/internal/models"
	"smartstop.transitwatch.org/internal/utils"
)

func (api *RestAPI) stopHandler(w http.ResponseWriter, r *http.Request) {
	stopID := utils.ExtractIDFromParams(r, "id")

	if err := utils.ValidateID(stopID); err != nil {
		api.validationErrorResponse(w, r, map[string][]string{
			"id": {err.Error()},
		})
		return
	}

	stop, ok := api.Schedule.GetStop(stopID)
	if !ok {
		api.sendNotFound(w, r)
		return
	}

	routes := api.Schedule.RoutesForStop(stopID)
	routeIDs := make([]string, len(routes))
	for i, route := range routes {
		routeIDs[i] = route.ID
	}
	stop.RouteIDs = routeIDs

	payload := struct {
		Entry  models.Stop    `json:"entry"`
		Routes []models.Route `json:"routes"`
	}{
		Entry:  stop,
		Routes: routes,
	}
	api.sendResponse(w, r, models.NewOKResponse(payload))
}
