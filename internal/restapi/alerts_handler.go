package restapi

import (
	"context"
	"errors"
	"net/http"

	"smartstop.transitwatch.org/internal/alerts"
	"smartstop.transitwatch.org/internal/models"
	"smartstop.transitwatch.org/internal/storage"
	"smartstop.transitwatch.org/internal/utils"
)

func (api *RestAPI) alertsHandler(w http.ResponseWriter, r *http.Request) {
	filter := storage.AlertFilter{}

	if stopID := r.URL.Query().Get("stopId"); stopID != "" {
		if err := utils.ValidateID(stopID); err != nil {
			api.validationErrorResponse(w, r, map[string][]string{
				"stopId": {err.Error()},
			})
			return
		}
		filter.StopID = stopID
	}

	if status := r.URL.Query().Get("status"); status != "" {
		switch models.AlertStatus(status) {
		case models.AlertOpen, models.AlertAcknowledged, models.AlertResolved:
			filter.Status = models.AlertStatus(status)
		default:
			api.validationErrorResponse(w, r, map[string][]string{
				"status": {"must be one of open, acknowledged, resolved"},
			})
			return
		}
	}

	list, err := api.Alerts.List(r.Context(), filter)
	if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}
	if list == nil {
		list = []models.Alert{}
	}

	api.sendResponse(w, r, models.NewListResponse(list, false))
}

func (api *RestAPI) alertAcknowledgeHandler(w http.ResponseWriter, r *http.Request) {
	api.alertTransition(w, r, api.Alerts.Acknowledge)
}

func (api *RestAPI) alertResolveHandler(w http.ResponseWriter, r *http.Request) {
	api.alertTransition(w, r, api.Alerts.Resolve)
}

func (api *RestAPI) alertTransition(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, alertID string) (models.Alert, error)) {
	alertID := utils.ExtractIDFromParams(r, "id")
	if alertID == "" {
		api.validationErrorResponse(w, r, map[string][]string{
			"id": {"id cannot be empty"},
		})
		return
	}

	alert, err := apply(r.Context(), alertID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		api.sendNotFound(w, r)
	case errors.Is(err, alerts.ErrInvalidTransition):
		api.conflictResponse(w, r, err.Error())
	case err != nil:
		api.serverErrorResponse(w, r, err)
	default:
		api.sendResponse(w, r, models.NewOKResponse(alert))
	}
}
