package restapi

import (
	"net/http"
	"time"

	"smartstop.transitwatch.org/internal/app"
)

type RestAPI struct {
	*app.Application
	rateLimiter func(http.Handler) http.Handler
}

// NewRestAPI creates a new RestAPI instance with initialized rate limiter
func NewRestAPI(app *app.Application) *RestAPI {
	return &RestAPI{
		Application: app,
		rateLimiter: NewRateLimitMiddleware(app.Config.RateLimit, time.Second),
	}
}

// Handler assembles the full middleware chain around the routed endpoints:
// security headers, request logging, and per-key rate limiting.
func (api *RestAPI) Handler() http.Handler {
	router := api.Routes()

	var handler http.Handler = router
	handler = api.rateLimiter(handler)
	handler = NewRequestLoggingMiddleware(api.Logger, api.Metrics)(handler)
	handler = securityHeaders(handler)
	return handler
}
