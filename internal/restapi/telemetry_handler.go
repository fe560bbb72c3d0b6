package restapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"smartstop.transitwatch.org/internal/ingest"
	"smartstop.transitwatch.org/internal/models"
)

const maxTelemetryBody = 1 << 20

func (api *RestAPI) telemetryHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTelemetryBody))
	if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}

	var reading ingest.Reading
	if err := json.Unmarshal(body, &reading); err != nil {
		api.validationErrorResponse(w, r, map[string][]string{
			"body": {"request body is not valid JSON"},
		})
		return
	}

	result, err := api.Ingestor.Submit(r.Context(), reading, body)
	var invalid *ingest.ValidationError
	switch {
	case errors.As(err, &invalid):
		api.validationErrorResponse(w, r, invalid.FieldErrors)
	case errors.Is(err, ingest.ErrUnknownStop):
		api.sendNotFound(w, r)
	case err != nil:
		api.serverErrorResponse(w, r, err)
	default:
		api.sendResponse(w, r, models.NewOKResponse(result))
	}
}
