package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"github.com/itsrealkaran/eth-date/data"
)

// Geolocation error taxonomy. Permission denied and timeout are
// user-actionable; position unavailable triggers the IP fallback tier.
var (
	ErrPermissionDenied    = errors.New("location access denied by user")
	ErrPositionUnavailable = errors.New("location information unavailable")
	ErrTimeout             = errors.New("location request timed out")
)

// Reading is one geolocation result, a position or an error
type Reading struct {
	Position *data.Position
	Err      error
}

// PositionSource delivers continuous position readings. The channel
// closes when the context is cancelled.
type PositionSource interface {
	Watch(ctx context.Context) <-chan Reading
}

// DeviceWatcher is implemented by a platform location provider
// (gpsd bridge, mobile shim). Out of scope here, injected in.
type DeviceWatcher interface {
	Watch(ctx context.Context) <-chan Reading
}

// DeviceSource adapts a platform watcher, stamping readings as
// device-sourced
type DeviceSource struct {
	Watcher DeviceWatcher
}

func (d *DeviceSource) Watch(ctx context.Context) <-chan Reading {
	out := make(chan Reading)
	go func() {
		defer close(out)
		inner := d.Watcher.Watch(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-inner:
				if !ok {
					return
				}
				if r.Position != nil {
					r.Position.Source = "device"
				}
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// ChainSource runs the device tier and drops to the fallback tier the
// first time the device reports position unavailable (no GPS
// hardware, desktop browsers). Other errors pass through untouched.
type ChainSource struct {
	Device   PositionSource
	Fallback PositionSource
}

func (c *ChainSource) Watch(ctx context.Context) <-chan Reading {
	out := make(chan Reading)
	go func() {
		defer close(out)

		if c.Device == nil {
			c.forward(ctx, c.Fallback.Watch(ctx), out)
			return
		}

		inner := c.Device.Watch(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-inner:
				if !ok {
					return
				}
				if errors.Is(r.Err, ErrPositionUnavailable) && c.Fallback != nil {
					c.forward(ctx, c.Fallback.Watch(ctx), out)
					return
				}
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (c *ChainSource) forward(ctx context.Context, in <-chan Reading, out chan<- Reading) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}
}

const (
	ipLookupURL = "http://ip-api.com/json"

	// Coarse city-level result, treat the radius accordingly
	ipAccuracyMeters = 10000

	ipPollInterval = 30 * time.Second
	ipCacheTTL     = 10 * time.Minute
)

var ipClient = &http.Client{Timeout: 10 * time.Second}

// ipCache keeps recent lookups so a burst of sessions doesn't hammer
// the lookup service
var (
	ipCache   = lru.New(8)
	ipCacheMu sync.Mutex
)

type ipCacheEntry struct {
	lat, lon float64
	fetched  time.Time
}

// IPSource resolves a coarse position from the caller's IP on a poll
// interval
type IPSource struct {
	URL      string
	Interval time.Duration
}

func (s *IPSource) Watch(ctx context.Context) <-chan Reading {
	url := s.URL
	if url == "" {
		url = ipLookupURL
	}
	interval := s.Interval
	if interval == 0 {
		interval = ipPollInterval
	}

	out := make(chan Reading)
	go func() {
		defer close(out)

		emit := func() {
			lat, lon, err := lookupIP(ctx, url)
			var r Reading
			if err != nil {
				r = Reading{Err: fmt.Errorf("ip lookup: %w", err)}
			} else {
				r = Reading{Position: &data.Position{
					Latitude:  lat,
					Longitude: lon,
					Accuracy:  ipAccuracyMeters,
					Timestamp: time.Now().UnixMilli(),
					Source:    "ip-fallback",
				}}
			}
			select {
			case out <- r:
			case <-ctx.Done():
			}
		}

		emit()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emit()
			}
		}
	}()
	return out
}

func lookupIP(ctx context.Context, url string) (float64, float64, error) {
	ipCacheMu.Lock()
	if v, ok := ipCache.Get(url); ok {
		entry := v.(*ipCacheEntry)
		if time.Since(entry.fetched) < ipCacheTTL {
			ipCacheMu.Unlock()
			return entry.lat, entry.lon, nil
		}
	}
	ipCacheMu.Unlock()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return 0, 0, err
	}
	resp, err := ipClient.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	var body struct {
		Status string  `json:"status"`
		Lat    float64 `json:"lat"`
		Lon    float64 `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, 0, err
	}
	if body.Status != "" && body.Status != "success" {
		return 0, 0, errors.New("lookup failed: " + body.Status)
	}

	ipCacheMu.Lock()
	ipCache.Add(url, &ipCacheEntry{lat: body.Lat, lon: body.Lon, fetched: time.Now()})
	ipCacheMu.Unlock()

	return body.Lat, body.Lon, nil
}

const (
	// Reference point for simulated sessions
	simLat = 37.7749
	simLon = -122.4194

	simInterval = 3 * time.Second

	// Bounded random walk, roughly 50m steps within ~500m
	simStepDeg  = 0.0005
	simBoundDeg = 0.005
)

// SimulatedSource emits a bounded random walk near a fixed reference
// point. Used in development mode instead of real geolocation.
type SimulatedSource struct {
	Lat      float64
	Lon      float64
	Interval time.Duration
	Seed     int64
}

func (s *SimulatedSource) Watch(ctx context.Context) <-chan Reading {
	lat := s.Lat
	lon := s.Lon
	if lat == 0 && lon == 0 {
		lat, lon = simLat, simLon
	}
	interval := s.Interval
	if interval == 0 {
		interval = simInterval
	}
	seed := s.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	out := make(chan Reading)
	go func() {
		defer close(out)

		curLat, curLon := lat, lon
		emit := func() {
			r := Reading{Position: &data.Position{
				Latitude:  curLat,
				Longitude: curLon,
				Accuracy:  15,
				Timestamp: time.Now().UnixMilli(),
				Source:    "simulated",
			}}
			select {
			case out <- r:
			case <-ctx.Done():
			}
		}

		emit()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				curLat = clamp(curLat+(rng.Float64()-0.5)*2*simStepDeg, lat-simBoundDeg, lat+simBoundDeg)
				curLon = clamp(curLon+(rng.Float64()-0.5)*2*simStepDeg, lon-simBoundDeg, lon+simBoundDeg)
				emit()
			}
		}
	}()
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NewSource builds the standard fallback chain: simulated in dev
// mode, otherwise device first with IP lookup behind it. A nil
// watcher (no location hardware at all) goes straight to IP.
func NewSource(dev bool, watcher DeviceWatcher) PositionSource {
	if dev {
		return &SimulatedSource{}
	}
	var device PositionSource
	if watcher != nil {
		device = &DeviceSource{Watcher: watcher}
	}
	return &ChainSource{Device: device, Fallback: &IPSource{}}
}
