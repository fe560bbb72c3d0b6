package gtfs

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/jamespfennell/gtfs"

	"smartstop.transitwatch.org/internal/models"
)

func rawGtfsData(source string, isLocalFile bool, client *http.Client) ([]byte, error) {
	var b []byte
	var err error

	if isLocalFile {
		b, err = os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("error reading local GTFS file: %w", err)
		}
	} else {
		resp, err := client.Get(source)
		if err != nil {
			return nil, fmt.Errorf("error downloading GTFS data: %w", err)
		}
		defer resp.Body.Close() // nolint

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("error downloading GTFS data: unexpected status %d", resp.StatusCode)
		}

		b, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("error reading GTFS data: %w", err)
		}
	}
	return b, nil
}

// loadScheduleIndex loads and parses GTFS data from either a URL or a local
// file and converts it into our schedule index.
func loadScheduleIndex(source string, isLocalFile bool, timeout time.Duration) (*Index, error) {
	client := &http.Client{Timeout: timeout}

	b, err := rawGtfsData(source, isLocalFile, client)
	if err != nil {
		return nil, err
	}

	staticData, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("error parsing GTFS data: %w", err)
	}

	return buildIndex(staticData), nil
}

// buildIndex converts parsed GTFS static data into an Index.
func buildIndex(staticData *gtfs.Static) *Index {
	idx := NewIndex()

	for i := range staticData.Stops {
		stop := &staticData.Stops[i]
		if stop.Latitude == nil || stop.Longitude == nil {
			continue
		}
		idx.Stops[stop.Id] = models.Stop{
			ID:   stop.Id,
			Name: stop.Name,
			Code: stop.Code,
			Lat:  *stop.Latitude,
			Lon:  *stop.Longitude,
		}
	}

	for i := range staticData.Routes {
		route := &staticData.Routes[i]
		idx.Routes[route.Id] = models.Route{
			ID:        route.Id,
			AgencyID:  route.Agency.Id,
			ShortName: route.ShortName,
			LongName:  route.LongName,
		}
	}

	for i := range staticData.Trips {
		scheduled := &staticData.Trips[i]
		if scheduled.Route == nil || len(scheduled.StopTimes) == 0 {
			continue
		}

		trip := Trip{
			ID:           scheduled.ID,
			RouteID:      scheduled.Route.Id,
			AddedDates:   make(map[string]bool),
			RemovedDates: make(map[string]bool),
		}

		if svc := scheduled.Service; svc != nil {
			trip.StartDate = svc.StartDate
			trip.EndDate = svc.EndDate
			trip.Weekdays[time.Monday] = svc.Monday
			trip.Weekdays[time.Tuesday] = svc.Tuesday
			trip.Weekdays[time.Wednesday] = svc.Wednesday
			trip.Weekdays[time.Thursday] = svc.Thursday
			trip.Weekdays[time.Friday] = svc.Friday
			trip.Weekdays[time.Saturday] = svc.Saturday
			trip.Weekdays[time.Sunday] = svc.Sunday
			for _, d := range svc.AddedDates {
				trip.AddedDates[d.Format(dateKeyLayout)] = true
			}
			for _, d := range svc.RemovedDates {
				trip.RemovedDates[d.Format(dateKeyLayout)] = true
			}
		}

		for _, st := range scheduled.StopTimes {
			if st.Stop == nil {
				continue
			}
			trip.StopTimes = append(trip.StopTimes, StopTime{
				StopID:    st.Stop.Id,
				Sequence:  st.StopSequence,
				Departure: st.DepartureTime,
			})
		}
		if len(trip.StopTimes) == 0 {
			continue
		}

		idx.AddTrip(trip)
	}

	// Backfill route references on stops for API responses.
	for stopID, routeIDs := range idx.routesByStop {
		stop := idx.Stops[stopID]
		stop.RouteIDs = append([]string(nil), routeIDs...)
		idx.Stops[stopID] = stop
	}

	return idx
}
