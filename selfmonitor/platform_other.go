//go:build !unix

package selfmonitor

import "time"

type platformSampler struct{}

func (platformSampler) CPUTime() (time.Duration, error) { return 0, nil }

func (platformSampler) Load() (LoadAverage, error) { return LoadAverage{}, nil }

func (platformSampler) RSS() (uint64, error) { return 0, nil }
