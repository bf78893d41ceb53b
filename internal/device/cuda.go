//go:build cuda

package device

import (
	"gorgonia.org/cu"
)

func probeGPUs() ([]GPU, error) {
	n, err := cu.NumDevices()
	if err != nil {
		return nil, err
	}
	gpus := make([]GPU, 0, n)
	for d := 0; d < n; d++ {
		name, _ := cu.Device(d).Name()
		mem, _ := cu.Device(d).TotalMem()
		gpus = append(gpus, GPU{Index: d, Name: name, Bytes: uint64(mem)})
	}
	return gpus, nil
}
