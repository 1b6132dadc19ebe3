//go:build unix && !linux

package selfmonitor

import (
	"time"

	"golang.org/x/sys/unix"
)

type platformSampler struct{}

func (platformSampler) CPUTime() (time.Duration, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, err
	}
	return time.Duration(ru.Utime.Nano() + ru.Stime.Nano()), nil
}

func (platformSampler) Load() (LoadAverage, error) {
	return LoadAverage{}, nil
}

// Current RSS needs task_info or kvm here; rusage only has the peak
func (platformSampler) RSS() (uint64, error) {
	return 0, nil
}
