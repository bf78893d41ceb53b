// Package device selects where the tagger runs and how many workers it uses.
package device

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"go.uber.org/zap"

	"github.com/headlands-org/nntagger/internal/errs"
)

// Info describes the selected compute device.
type Info struct {
	CPU      string
	Cores    int
	Threads  int
	AVX2     bool
	AVX512   bool
	CUDA     int // -1 when running on the CPU
	GPUName  string
	GPUBytes uint64
}

// GPU describes one CUDA device visible to the process.
type GPU struct {
	Index int
	Name  string
	Bytes uint64
}

// DefaultWorkers returns the number of physical cores, falling back to the
// logical CPU count when cpuid cannot tell.
func DefaultWorkers() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Workers resolves a configured worker count, 0 meaning DefaultWorkers.
func Workers(configured int) int {
	if configured > 0 {
		return configured
	}
	return DefaultWorkers()
}

// Select validates the cuda option against the visible devices and logs the
// result. The numeric kernels always run on the CPU; a CUDA selection is
// recorded so runs on GPU hosts are reported faithfully.
func Select(cuda int, log *zap.Logger) (Info, error) {
	if log == nil {
		log = zap.NewNop()
	}
	info := Info{
		CPU:     cpuid.CPU.BrandName,
		Cores:   cpuid.CPU.PhysicalCores,
		Threads: cpuid.CPU.LogicalCores,
		AVX2:    cpuid.CPU.Supports(cpuid.AVX2),
		AVX512:  cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ),
		CUDA:    -1,
	}

	gpus, probeErr := probeGPUs()
	if probeErr != nil {
		log.Debug("cuda probe failed", zap.Error(probeErr))
	}

	if cuda < 0 {
		if len(gpus) > 0 {
			log.Warn("CUDA device available but cuda=-1, running on CPU",
				zap.Int("devices", len(gpus)), zap.String("name", gpus[0].Name))
		}
		log.Info("device", zap.String("cpu", info.CPU), zap.Int("cores", info.Cores),
			zap.Int("threads", info.Threads), zap.Bool("avx2", info.AVX2), zap.Bool("avx512", info.AVX512))
		return info, nil
	}

	if probeErr != nil {
		return info, errs.Wrap(errs.Configuration, probeErr, "cuda=%d", cuda)
	}
	if cuda >= len(gpus) {
		return info, errs.New(errs.Configuration, "cuda=%d but %d device(s) visible", cuda, len(gpus))
	}
	gpu := gpus[cuda]
	info.CUDA = gpu.Index
	info.GPUName = gpu.Name
	info.GPUBytes = gpu.Bytes
	log.Info("device", zap.Int("cuda", gpu.Index), zap.String("gpu", gpu.Name),
		zap.Uint64("memory", gpu.Bytes), zap.String("cpu", info.CPU))
	return info, nil
}
