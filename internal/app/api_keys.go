package app

import "net/http"

func (app *Application) RequestHasInvalidAPIKey(r *http.Request) bool {
	key := r.URL.Query().Get("key")
	return app.IsInvalidAPIKey(key)
}

// IsInvalidAPIKey checks a key against the configured set. An empty
// configured set means authentication is disabled, which is only sensible in
// development.
func (app *Application) IsInvalidAPIKey(key string) bool {
	if len(app.Config.ApiKeys) == 0 {
		return false
	}
	if key == "" {
		return true
	}

	for _, validKey := range app.Config.ApiKeys {
		if key == validKey {
			return false
		}
	}
	return true
}
