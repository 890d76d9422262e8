// Package data provides shared state for the tracking server.
// Positions are in-memory only; profiles persist to sqlite.
package data

import (
	"sync"
)

var dataDir = "."

// SetDataDir sets the directory for all data files
func SetDataDir(dir string) {
	dataDir = dir
}

// DataDir returns the current data directory
func DataDir() string {
	return dataDir
}

//
// Profiles - uuid -> gender registry backed by sqlite
//

var (
	profiles     *Profiles
	profilesOnce sync.Once
)

func DefaultProfiles() *Profiles {
	profilesOnce.Do(func() {
		profiles = OpenProfiles(dataDir + "/profiles.db")
	})
	return profiles
}
