// Package version tracks build metadata for the agent.
package version

import (
	"sync"
)

// Product is the name reported in the User-Agent header.
const Product = "lab-agent"

// Info describes build metadata for the agent.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

var (
	info      = Info{Version: "dev"}
	infoMutex sync.RWMutex
)

// Set updates the version metadata exposed by the agent.
func Set(v Info) {
	infoMutex.Lock()
	defer infoMutex.Unlock()

	if v.Version == "" {
		v.Version = "dev"
	}
	info = v
}

// Current returns the currently configured build metadata.
func Current() Info {
	infoMutex.RLock()
	defer infoMutex.RUnlock()
	return info
}

// UserAgent returns the product token sent with every upload, e.g. "lab-agent/1.2.0".
func UserAgent() string {
	return Product + "/" + Current().Version
}
