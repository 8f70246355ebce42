package allocator

import (
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Allocate slices the free devices, sorted ascending, into consecutive
// groups of gpuCount devices, stopping after maxJobs groups. Devices left
// over once fewer than gpuCount remain stay idle; groups are never
// reshuffled to use them.
func Allocate(free []int, gpuCount, maxJobs int) ([]DeviceGroup, error) {
	if len(free) == 0 {
		return nil, ErrNoFreeDevices
	}
	return NewDeviceAllocation(free, gpuCount, maxJobs).Groups, nil
}

func NewDeviceAllocation(availableDevIds []int, allocationSize, maxAllocations int) *DeviceAllocation {
	devIds := append([]int(nil), availableDevIds...)
	sort.Ints(devIds)
	devAlloc := &DeviceAllocation{
		AvailableDevIds: devIds,
		AllocationSize:  allocationSize,
		MaxAllocations:  maxAllocations,
	}
	devAlloc.SetAllocations()
	return devAlloc
}

func (a *DeviceAllocation) SetAllocations() {
	a.Groups = nil
	if a.AllocationSize <= 0 || a.MaxAllocations <= 0 {
		return
	}
	for i := 0; i+a.AllocationSize <= len(a.AvailableDevIds); i += a.AllocationSize {
		if len(a.Groups) == a.MaxAllocations {
			break
		}
		a.Groups = append(a.Groups, DeviceGroup(a.AvailableDevIds[i:i+a.AllocationSize:i+a.AllocationSize]))
	}
	log.Debugf("allocated %d group(s) of %d from %d free device(s), %d idle",
		len(a.Groups), a.AllocationSize, len(a.AvailableDevIds), a.Idle())
}

// Idle returns the number of free devices not bound to any group.
func (a *DeviceAllocation) Idle() int {
	return len(a.AvailableDevIds) - len(a.Groups)*a.AllocationSize
}

// Lowest returns the smallest device index of the group.
func (g DeviceGroup) Lowest() int {
	return g[0]
}

// Join formats the group indexes joined by sep, e.g. "0,1".
func (g DeviceGroup) Join(sep string) string {
	s := make([]string, len(g))
	for i, d := range g {
		s[i] = strconv.Itoa(d)
	}
	return strings.Join(s, sep)
}

func (g DeviceGroup) String() string {
	return g.Join(",")
}
