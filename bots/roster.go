// Package bots runs a synthetic roster of tracked users for
// development. Each bot is a real client session over a real
// websocket, so the whole pipeline gets exercised: geolocation
// readings, gps_update fan-out, matching and direction math.
package bots

import (
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/itsrealkaran/eth-date/client"
	"github.com/itsrealkaran/eth-date/data"
)

var maleNames = []string{"Alex", "Jake", "Ryan", "Mike", "Tom", "Chris", "David", "Sam", "Luke", "Max"}
var femaleNames = []string{"Sarah", "Emma", "Mia", "Luna", "Zoe", "Aria", "Lily", "Maya", "Ava", "Chloe"}

const (
	minBots = 4
	maxBots = 9

	// Join/leave churn sweep
	churnInterval = 10 * time.Second
	churnChance   = 0.2
)

type bot struct {
	id      string
	name    string
	gender  string
	session *client.Session
}

// Roster manages the bot population
type Roster struct {
	url string

	mu   sync.Mutex
	bots map[string]*bot
	rng  *rand.Rand
}

func NewRoster(url string) *Roster {
	return &Roster{
		url:  url,
		bots: make(map[string]*bot),
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run populates the roster and churns it until the process exits
func (r *Roster) Run() {
	count := minBots + r.rng.Intn(maxBots-minBots+1)
	for i := 0; i < count; i++ {
		r.spawn()
	}
	log.Printf("[bots] roster started with %d bots", count)

	ticker := time.NewTicker(churnInterval)
	defer ticker.Stop()

	for range ticker.C {
		if r.rng.Float64() > churnChance {
			continue
		}
		r.mu.Lock()
		n := len(r.bots)
		r.mu.Unlock()

		if n >= maxBots || (n > minBots && r.rng.Float64() < 0.5) {
			r.despawnOne()
		} else {
			r.spawn()
		}
	}
}

func (r *Roster) spawn() {
	gender := "male"
	names := maleNames
	if r.rng.Float64() > 0.5 {
		gender = "female"
		names = femaleNames
	}
	name := names[r.rng.Intn(len(names))]
	id := "bot_" + name + "_" + randomDigits(r.rng, 4)

	// register a profile so the matcher can slot this bot
	if err := data.DefaultProfiles().Set(id, gender); err != nil {
		log.Printf("[bots] profile for %s: %v", id, err)
	}

	// scatter the start point around the reference location
	session := client.NewSession(client.Config{
		URL:    r.url,
		UserID: id,
		Dev:    true,
		Source: &client.SimulatedSource{
			Lat:  37.7749 + (r.rng.Float64()-0.5)*0.01,
			Lon:  -122.4194 + (r.rng.Float64()-0.5)*0.01,
			Seed: r.rng.Int63(),
		},
	})

	if err := session.StartTracking(); err != nil {
		log.Printf("[bots] start %s: %v", id, err)
		return
	}

	r.mu.Lock()
	r.bots[id] = &bot{id: id, name: name, gender: gender, session: session}
	r.mu.Unlock()

	log.Printf("[bots] %s joined (%s)", id, gender)
}

func (r *Roster) despawnOne() {
	r.mu.Lock()
	var victim *bot
	for _, b := range r.bots {
		victim = b
		break
	}
	if victim != nil {
		delete(r.bots, victim.id)
	}
	r.mu.Unlock()

	if victim == nil {
		return
	}
	victim.session.StopTracking()
	log.Printf("[bots] %s left", victim.id)
}

// Stop tears down every bot session
func (r *Roster) Stop() {
	r.mu.Lock()
	bots := r.bots
	r.bots = make(map[string]*bot)
	r.mu.Unlock()

	for _, b := range bots {
		b.session.StopTracking()
	}
}

func randomDigits(rng *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('0' + rng.Intn(10))
	}
	return string(b)
}
