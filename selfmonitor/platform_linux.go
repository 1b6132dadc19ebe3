//go:build linux

package selfmonitor

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// sysinfo load values are fixed point with 16 fractional bits
const loadScale = 1 << 16

type platformSampler struct{}

func (platformSampler) CPUTime() (time.Duration, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, err
	}
	return time.Duration(ru.Utime.Nano() + ru.Stime.Nano()), nil
}

func (platformSampler) Load() (LoadAverage, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return LoadAverage{}, err
	}
	return LoadAverage{
		One:     float64(si.Loads[0]) / loadScale,
		Five:    float64(si.Loads[1]) / loadScale,
		Fifteen: float64(si.Loads[2]) / loadScale,
	}, nil
}

func (platformSampler) RSS() (uint64, error) {
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0, err
	}
	return parseStatmRSS(data, uint64(unix.Getpagesize()))
}
