package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"smartstop.transitwatch.org/internal/models"
)

// MemoryStore is an in-memory Store used by tests and by dev deployments
// that run without a database DSN.
type MemoryStore struct {
	mu         sync.RWMutex
	readings   map[string]map[int64]models.TelemetryReading // stopID -> unix nano -> reading
	alerts     map[string]models.Alert                      // alert ID -> alert
	deviations map[string]map[int]time.Duration             // routeID -> hour -> mean deviation
	samples    []AccuracySample
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		readings:   make(map[string]map[int64]models.TelemetryReading),
		alerts:     make(map[string]models.Alert),
		deviations: make(map[string]map[int]time.Duration),
	}
}

func (s *MemoryStore) InsertReading(ctx context.Context, reading models.TelemetryReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTime, ok := s.readings[reading.StopID]
	if !ok {
		byTime = make(map[int64]models.TelemetryReading)
		s.readings[reading.StopID] = byTime
	}

	key := reading.Timestamp.UnixNano()
	if _, exists := byTime[key]; exists {
		return ErrDuplicateReading
	}
	byTime[key] = reading
	return nil
}

func (s *MemoryStore) RecentReadings(ctx context.Context, stopID string, since time.Time) ([]models.TelemetryReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.TelemetryReading
	for _, r := range s.readings[stopID] {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) SaveAlert(ctx context.Context, alert models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.ID] = alert
	return nil
}

func (s *MemoryStore) GetAlert(ctx context.Context, id string) (models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alert, ok := s.alerts[id]
	if !ok {
		return models.Alert{}, ErrNotFound
	}
	return alert, nil
}

func (s *MemoryStore) OpenAlert(ctx context.Context, stopID string, alertType models.AlertType) (models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, alert := range s.alerts {
		if alert.StopID == stopID && alert.Type == alertType && alert.Status != models.AlertResolved {
			return alert, nil
		}
	}
	return models.Alert{}, ErrNotFound
}

func (s *MemoryStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Alert
	for _, alert := range s.alerts {
		if filter.StopID != "" && alert.StopID != filter.StopID {
			continue
		}
		if filter.Status != "" && alert.Status != filter.Status {
			continue
		}
		out = append(out, alert)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) AverageDeviation(ctx context.Context, routeID string, hour int) (time.Duration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviations[routeID][hour], nil
}

// SetAverageDeviation seeds deviation history; used by tests and dev mode.
func (s *MemoryStore) SetAverageDeviation(routeID string, hour int, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byHour, ok := s.deviations[routeID]
	if !ok {
		byHour = make(map[int]time.Duration)
		s.deviations[routeID] = byHour
	}
	byHour[hour] = d
}

func (s *MemoryStore) RecordAccuracySample(ctx context.Context, sample AccuracySample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
