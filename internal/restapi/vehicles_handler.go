package restapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"smartstop.transitwatch.org/internal/models"
	"smartstop.transitwatch.org/internal/tracker"
	"smartstop.transitwatch.org/internal/utils"
)

func (api *RestAPI) vehicleHandler(w http.ResponseWriter, r *http.Request) {
	vehicleID := utils.ExtractIDFromParams(r, "id")

	if err := utils.ValidateID(vehicleID); err != nil {
		api.validationErrorResponse(w, r, map[string][]string{
			"id": {err.Error()},
		})
		return
	}

	position, ok := api.Tracker.Get(vehicleID)
	if !ok {
		api.sendNotFound(w, r)
		return
	}

	api.sendResponse(w, r, models.NewOKResponse(position))
}

type positionRequest struct {
	RouteID   string    `json:"routeId"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Timestamp time.Time `json:"timestamp"`
}

// positionResult tells the reporting device what happened. A stale update is
// not an error: the device just learns its report lost to a newer one.
type positionResult struct {
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"`
}

func (api *RestAPI) vehiclePositionHandler(w http.ResponseWriter, r *http.Request) {
	vehicleID := utils.ExtractIDFromParams(r, "id")

	fieldErrors := make(map[string][]string)
	if err := utils.ValidateID(vehicleID); err != nil {
		fieldErrors["id"] = append(fieldErrors["id"], err.Error())
	}

	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.validationErrorResponse(w, r, map[string][]string{
			"body": {"request body is not valid JSON"},
		})
		return
	}

	if req.RouteID != "" {
		if err := utils.ValidateID(req.RouteID); err != nil {
			fieldErrors["routeId"] = append(fieldErrors["routeId"], err.Error())
		}
	}
	if err := utils.ValidateLatitude(req.Lat); err != nil {
		fieldErrors["lat"] = append(fieldErrors["lat"], err.Error())
	}
	if err := utils.ValidateLongitude(req.Lon); err != nil {
		fieldErrors["lon"] = append(fieldErrors["lon"], err.Error())
	}
	if err := utils.ValidateTimestamp(req.Timestamp, time.Now()); err != nil {
		fieldErrors["timestamp"] = append(fieldErrors["timestamp"], err.Error())
	}
	if len(fieldErrors) > 0 {
		api.validationErrorResponse(w, r, fieldErrors)
		return
	}

	applied, err := api.Tracker.Apply(tracker.PositionUpdate{
		VehicleID: vehicleID,
		RouteID:   req.RouteID,
		Lat:       req.Lat,
		Lon:       req.Lon,
		Timestamp: req.Timestamp.UTC(),
	})
	if err != nil && !errors.Is(err, tracker.ErrStaleUpdate) {
		api.serverErrorResponse(w, r, err)
		return
	}

	result := positionResult{Applied: applied}
	if errors.Is(err, tracker.ErrStaleUpdate) {
		result.Reason = "update older than stored position"
	}
	if api.Metrics != nil {
		if applied {
			api.Metrics.PositionApplied()
		} else {
			api.Metrics.PositionRejected()
		}
	}

	api.sendResponse(w, r, models.NewOKResponse(result))
}
