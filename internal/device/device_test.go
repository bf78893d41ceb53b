//go:build !cuda

package device

import (
	"testing"

	"github.com/headlands-org/nntagger/internal/errs"
)

func TestSelectCPU(t *testing.T) {
	info, err := Select(-1, nil)
	if err != nil {
		t.Fatalf("Select(-1): %v", err)
	}
	if info.CUDA != -1 {
		t.Fatalf("CUDA = %d, want -1", info.CUDA)
	}
}

func TestSelectCUDAWithoutSupport(t *testing.T) {
	_, err := Select(0, nil)
	if !errs.Is(err, errs.Configuration) {
		t.Fatalf("Select(0) = %v, want configuration error", err)
	}
}

func TestWorkers(t *testing.T) {
	if got := Workers(3); got != 3 {
		t.Fatalf("Workers(3) = %d", got)
	}
	if got := Workers(0); got < 1 {
		t.Fatalf("Workers(0) = %d, want >= 1", got)
	}
}
