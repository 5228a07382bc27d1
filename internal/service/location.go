package service

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/leolani/chatui/internal/config"
	"github.com/leolani/chatui/internal/domain"
)

// Locator caches a best-effort geolocation of this host. Lookups run in the
// background; readers always get the last successful result or the empty
// default, never a blocked call.
type Locator struct {
	url      string
	client   *http.Client
	logger   zerolog.Logger
	cached   atomic.Pointer[domain.Location]
	inflight atomic.Bool
}

// NewLocator creates a locator. An empty URL disables lookups entirely.
func NewLocator(cfg config.LocationConfig, logger zerolog.Logger) *Locator {
	l := &Locator{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
	empty := domain.Location{}
	l.cached.Store(&empty)
	return l
}

// Current returns the cached location.
func (l *Locator) Current() domain.Location {
	return *l.cached.Load()
}

// Refresh triggers a background lookup, fire-and-forget. Concurrent calls
// collapse into one lookup.
func (l *Locator) Refresh() {
	if l.url == "" || !l.inflight.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer l.inflight.Store(false)

		loc, err := l.fetch()
		if err != nil {
			l.logger.Debug().Err(err).Msg("location lookup failed, keeping previous value")
			return
		}
		l.cached.Store(&loc)
	}()
}

func (l *Locator) fetch() (domain.Location, error) {
	resp, err := l.client.Get(l.url)
	if err != nil {
		return domain.Location{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Location{}, fmt.Errorf("unexpected status %d from location service", resp.StatusCode)
	}

	var body struct {
		Country string `json:"country"`
		Region  string `json:"regionName"`
		City    string `json:"city"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Location{}, fmt.Errorf("failed to decode location response: %w", err)
	}

	return domain.Location{Country: body.Country, Region: body.Region, City: body.City}, nil
}
