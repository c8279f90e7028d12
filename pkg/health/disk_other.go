//go:build !linux

package health

import (
	"context"
	"fmt"
	"os"
	"runtime"
)

// DiskCheck verifies the filesystem holding Path has room for the
// export output.
// On non-Linux platforms, only the path itself is verified.
type DiskCheck struct {
	Path string

	// MinFreeBytes is the minimum free space required. Ignored on
	// non-Linux platforms.
	MinFreeBytes uint64

	// MinFreePercent is the minimum free space as a percentage of the
	// filesystem size. Ignored on non-Linux platforms.
	MinFreePercent float64
}

func (c *DiskCheck) Name() string { return "disk" }

func (c *DiskCheck) Check(ctx context.Context) CheckResult {
	result := CheckResult{Metadata: make(map[string]any)}

	path := c.Path
	if path == "" {
		path = "."
	}

	if _, err := os.Stat(path); err != nil {
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("output path not accessible: %v", err)
		return result
	}

	result.Metadata["path"] = path
	result.Metadata["platform"] = runtime.GOOS
	result.Metadata["note"] = "free-space thresholds only enforced on Linux"

	result.Status = StatusHealthy
	result.Message = "output path accessible (free-space check limited on " + runtime.GOOS + ")"
	return result
}
