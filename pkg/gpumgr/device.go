package gpumgr

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	// host device files, e.g. /dev/nvidia0
	hostDeviceRe = regexp.MustCompile(`^/dev/nvidia(\d+)$`)
	// entries of `ls /dev` inside a container, e.g. nvidia0
	containerDeviceRe = regexp.MustCompile(`^nvidia(\d+)$`)
)

// ListHostDevicesCmd lists the accelerator device files of a host. A host
// without any prints nothing instead of failing.
const ListHostDevicesCmd = "ls /dev/nvidia* 2>/dev/null || true"

// GpuDevice is a single accelerator unit identified by its index.
type GpuDevice struct {
	Index int
}

func NewGpuDevice(index int) *GpuDevice {
	return &GpuDevice{Index: index}
}

// parseDeviceIndexes extracts device indexes from whitespace separated
// listing output, sorted and without duplicates.
func parseDeviceIndexes(listing string, re *regexp.Regexp) (indexes []int) {
	seen := make(map[int]bool)
	for _, f := range strings.Fields(listing) {
		m := re.FindStringSubmatch(f)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || seen[idx] {
			continue
		}
		seen[idx] = true
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	return
}

func subtract(all, claimed []int) (free []int) {
	c := make(map[int]bool, len(claimed))
	for _, d := range claimed {
		c[d] = true
	}
	for _, d := range all {
		if !c[d] {
			free = append(free, d)
		}
	}
	return
}
