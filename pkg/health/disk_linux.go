//go:build linux

package health

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// DiskCheck verifies the filesystem holding Path has room for the
// export output (Linux only).
type DiskCheck struct {
	Path string

	// MinFreeBytes is the minimum free space required. Zero disables
	// the absolute threshold.
	MinFreeBytes uint64

	// MinFreePercent is the minimum free space as a percentage of the
	// filesystem size. Zero disables the relative threshold.
	MinFreePercent float64
}

func (c *DiskCheck) Name() string { return "disk" }

func (c *DiskCheck) Check(ctx context.Context) CheckResult {
	result := CheckResult{Metadata: make(map[string]any)}

	path := c.Path
	if path == "" {
		path = "."
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("failed to stat filesystem for %s: %v", path, err)
		return result
	}

	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	freePercent := 0.0
	if total > 0 {
		freePercent = float64(free) / float64(total) * 100
	}

	result.Metadata["path"] = path
	result.Metadata["total_bytes"] = total
	result.Metadata["free_bytes"] = free
	result.Metadata["free_percent"] = fmt.Sprintf("%.2f%%", freePercent)

	if c.MinFreeBytes > 0 && free < c.MinFreeBytes {
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("free space %d bytes below threshold %d bytes", free, c.MinFreeBytes)
		return result
	}
	if c.MinFreePercent > 0 && freePercent < c.MinFreePercent {
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("free space %.2f%% below threshold %.2f%%", freePercent, c.MinFreePercent)
		return result
	}

	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("free space: %.2f%%", freePercent)
	return result
}
