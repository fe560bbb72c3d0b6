package models

// Stop is a physical bus stop served by one or more routes.
type Stop struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Code     string   `json:"code,omitempty"`
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	AgencyID string   `json:"agencyId,omitempty"`
	RouteIDs []string `json:"routeIds,omitempty"`
}

// Route is a transit route with an ordered stop sequence.
type Route struct {
	ID        string   `json:"id"`
	AgencyID  string   `json:"agencyId,omitempty"`
	ShortName string   `json:"shortName,omitempty"`
	LongName  string   `json:"longName,omitempty"`
	StopIDs   []string `json:"stopIds,omitempty"`
}
