// Package gpumgr discovers which accelerator devices of a remote host are
// free. Nothing is cached: every call queries the host again.
package gpumgr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AccessibleAI/gpu-deploy/pkg/compose"
	"github.com/AccessibleAI/gpu-deploy/pkg/remote"
	log "github.com/sirupsen/logrus"
)

// ProbeError means the host or its container backend could not be
// queried, so the free devices are unknown.
type ProbeError struct {
	Host string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probing devices on %s: %s", e.Host, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

type GpuMgr struct {
	Host          string
	GpuDevices    []*GpuDevice
	GpuContainers []*GpuContainer
	exr           remote.Executor
}

// Availability summarizes the device state of a host.
type Availability struct {
	Host    string
	Present []int
	Claimed []int
	Free    []int
}

func (m *GpuMgr) setGpuDevices() error {
	out, err := remote.Run(m.exr, m.Host, ListHostDevicesCmd)
	if err != nil {
		return err
	}
	var gpuDevices []*GpuDevice
	for _, idx := range parseDeviceIndexes(out, hostDeviceRe) {
		gpuDevices = append(gpuDevices, NewGpuDevice(idx))
	}
	m.GpuDevices = gpuDevices
	return nil
}

func (m *GpuMgr) setGpuContainers() error {
	out, err := remote.Run(m.exr, m.Host, compose.ListIds())
	if err != nil {
		return err
	}
	var gpuContainers []*GpuContainer
	for _, id := range strings.Fields(out) {
		c, err := NewGpuContainer(m.exr, m.Host, id)
		if err != nil {
			return err
		}
		gpuContainers = append(gpuContainers, c)
	}
	m.GpuContainers = gpuContainers
	return nil
}

func (m *GpuMgr) presentIndexes() (indexes []int) {
	for _, d := range m.GpuDevices {
		indexes = append(indexes, d.Index)
	}
	return
}

func (m *GpuMgr) claimedIndexes() (indexes []int) {
	seen := make(map[int]bool)
	for _, c := range m.GpuContainers {
		for _, idx := range c.DeviceIndexes() {
			if !seen[idx] {
				seen[idx] = true
				indexes = append(indexes, idx)
			}
		}
	}
	sort.Ints(indexes)
	return
}

// GetAvailability queries the host for present and claimed devices.
func (m *GpuMgr) GetAvailability() (*Availability, error) {
	if err := m.setGpuDevices(); err != nil {
		return nil, &ProbeError{Host: m.Host, Err: err}
	}
	if err := m.setGpuContainers(); err != nil {
		return nil, &ProbeError{Host: m.Host, Err: err}
	}
	a := &Availability{
		Host:    m.Host,
		Present: m.presentIndexes(),
		Claimed: m.claimedIndexes(),
	}
	a.Free = subtract(a.Present, a.Claimed)
	log.WithField("host", m.Host).Infof("gpus present: %v, claimed: %v, free: %v", a.Present, a.Claimed, a.Free)
	return a, nil
}

// FreeDevices returns the indexes of devices present on the host and not
// visible inside any running container, sorted ascending.
func (m *GpuMgr) FreeDevices() ([]int, error) {
	a, err := m.GetAvailability()
	if err != nil {
		return nil, err
	}
	return a.Free, nil
}

func NewGpuManager(exr remote.Executor, host string) *GpuMgr {
	return &GpuMgr{Host: host, exr: exr}
}
