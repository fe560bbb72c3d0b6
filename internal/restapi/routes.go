package restapi

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

type handlerFunc func(w http.ResponseWriter, r *http.Request)

func validateAPIKey(api *RestAPI, finalHandler handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if api.RequestHasInvalidAPIKey(r) {
			api.invalidAPIKeyResponse(w, r)
			return
		}
		finalHandler(w, r)
	})
}

// Routes builds the router. Every /api/v1 endpoint requires an API key; the
// health endpoint is open so load balancers can probe it.
func (api *RestAPI) Routes() *httprouter.Router {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(api.sendNotFound)

	router.Handler(http.MethodPost, "/api/v1/telemetry", validateAPIKey(api, api.telemetryHandler))

	router.Handler(http.MethodGet, "/api/v1/stops/:id", validateAPIKey(api, api.stopHandler))
	router.Handler(http.MethodGet, "/api/v1/stops/:id/arrivals", validateAPIKey(api, api.arrivalsHandler))
	router.Handler(http.MethodGet, "/api/v1/stops/:id/live", validateAPIKey(api, api.stopLiveHandler))
	router.Handler(http.MethodGet, "/api/v1/live", validateAPIKey(api, api.liveHandler))

	router.Handler(http.MethodGet, "/api/v1/vehicles/:id", validateAPIKey(api, api.vehicleHandler))
	router.Handler(http.MethodPost, "/api/v1/vehicles/:id/position", validateAPIKey(api, api.vehiclePositionHandler))

	router.Handler(http.MethodGet, "/api/v1/alerts", validateAPIKey(api, api.alertsHandler))
	router.Handler(http.MethodPost, "/api/v1/alerts/:id/ack", validateAPIKey(api, api.alertAcknowledgeHandler))
	router.Handler(http.MethodPost, "/api/v1/alerts/:id/acknowledge", validateAPIKey(api, api.alertAcknowledgeHandler))
	router.Handler(http.MethodPost, "/api/v1/alerts/:id/resolve", validateAPIKey(api, api.alertResolveHandler))

	router.Handler(http.MethodGet, "/healthz", http.HandlerFunc(api.healthHandler))

	return router
}
