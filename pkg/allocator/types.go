package allocator

import "errors"

// ErrNoFreeDevices signals that the host has no free device at all,
// as opposed to an allocation that produced zero groups on request.
var ErrNoFreeDevices = errors.New("no free devices")

// DeviceGroup is an ordered set of device indexes bound to a single job.
type DeviceGroup []int

type DeviceAllocation struct {
	AvailableDevIds []int
	AllocationSize  int
	MaxAllocations  int
	Groups          []DeviceGroup
}
