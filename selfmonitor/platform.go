package selfmonitor

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LoadAverage is the host run-queue load over 1, 5 and 15 minutes
type LoadAverage struct {
	One     float64 `json:"one"`
	Five    float64 `json:"five"`
	Fifteen float64 `json:"fifteen"`
}

// Sampler reads process and host counters the Go runtime does not expose
type Sampler interface {
	// CPUTime returns the process's cumulative user plus system CPU time
	CPUTime() (time.Duration, error)
	// Load returns host load averages; zero where the platform has none
	Load() (LoadAverage, error)
	// RSS returns the current resident set size in bytes; zero when unknown
	RSS() (uint64, error)
}

// NewSampler returns the sampler for the running platform
func NewSampler() Sampler {
	return platformSampler{}
}

// parseStatmRSS reads the resident page count, the second field of
// /proc/<pid>/statm, and converts it to bytes
func parseStatmRSS(data []byte, pageSize uint64) (uint64, error) {
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, fmt.Errorf("statm: want at least 2 fields, got %d", len(fields))
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("statm: resident pages: %w", err)
	}
	return pages * pageSize, nil
}
