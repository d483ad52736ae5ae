package guard

import (
	"os"
	"strconv"
	"strings"
)

func processPID() int {
	return os.Getpid()
}

// cgroupMemoryLimit returns the container memory limit in bytes, trying
// cgroup v2 (memory.max) before falling back to cgroup v1
// (memory.limit_in_bytes). Returns 0, nil when no limit is in effect
// (unlimited, or not running under a cgroup at all).
func cgroupMemoryLimit() (int64, error) {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if limitStr != "max" {
			return strconv.ParseInt(limitStr, 10, 64)
		}
		return 0, nil
	}

	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	}

	return 0, nil
}
