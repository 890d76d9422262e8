package data

import (
	"database/sql"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Profile is the externally verified identity the capability gate
// checks before any location is broadcast
type Profile struct {
	UUID      string `json:"uuid"`
	Gender    string `json:"gender"`
	CreatedAt int64  `json:"created_at"`
}

// Profiles is the sqlite-backed uuid -> gender registry
type Profiles struct {
	db *sql.DB
}

const profilesSchema = `
CREATE TABLE IF NOT EXISTS profiles (
	uuid TEXT PRIMARY KEY,
	gender TEXT NOT NULL,
	created_at INTEGER NOT NULL
);`

// OpenProfiles opens the registry at path, falling back to an
// in-memory database if the file can't be opened.
func OpenProfiles(path string) *Profiles {
	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on")
	if err == nil {
		err = db.Ping()
	}
	if err != nil {
		log.Printf("[profiles] open %s failed: %v, using memory store", path, err)
		db, _ = sql.Open("sqlite3", ":memory:")
	}

	if _, err := db.Exec(profilesSchema); err != nil {
		log.Printf("[profiles] schema: %v", err)
	}

	return &Profiles{db: db}
}

// Set creates or replaces a profile's gender
func (p *Profiles) Set(uuid, gender string) error {
	_, err := p.db.Exec(
		`INSERT INTO profiles (uuid, gender, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(uuid) DO UPDATE SET gender = excluded.gender`,
		uuid, gender, time.Now().UnixMilli(),
	)
	return err
}

// Get returns a profile by uuid
func (p *Profiles) Get(uuid string) (*Profile, bool) {
	var prof Profile
	err := p.db.QueryRow(
		`SELECT uuid, gender, created_at FROM profiles WHERE uuid = ?`, uuid,
	).Scan(&prof.UUID, &prof.Gender, &prof.CreatedAt)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("[profiles] get %s: %v", uuid, err)
		}
		return nil, false
	}
	return &prof, true
}

// Gender returns a profile's gender, or "" if unknown
func (p *Profiles) Gender(uuid string) string {
	prof, ok := p.Get(uuid)
	if !ok {
		return ""
	}
	return prof.Gender
}

// Close closes the underlying database
func (p *Profiles) Close() error {
	return p.db.Close()
}
