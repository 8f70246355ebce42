package gpumgr

import (
	"strings"

	"github.com/AccessibleAI/gpu-deploy/pkg/compose"
	"github.com/AccessibleAI/gpu-deploy/pkg/remote"
	log "github.com/sirupsen/logrus"
)

// GpuContainer is a running container and the devices visible inside it.
type GpuContainer struct {
	ContainerId string
	Devices     []*GpuDevice
}

func (c *GpuContainer) DeviceIndexes() (indexes []int) {
	for _, d := range c.Devices {
		indexes = append(indexes, d.Index)
	}
	return
}

// setVisibleDevices lists /dev inside the container.
func (c *GpuContainer) setVisibleDevices(exr remote.Executor, host string) error {
	out, err := remote.Run(exr, host, compose.ListDevices(c.ContainerId))
	if err != nil {
		return err
	}
	for _, idx := range parseDeviceIndexes(out, containerDeviceRe) {
		c.Devices = append(c.Devices, NewGpuDevice(idx))
	}
	log.WithFields(log.Fields{"host": host, "container": shortId(c.ContainerId)}).
		Debugf("container devices: %v", c.DeviceIndexes())
	return nil
}

func NewGpuContainer(exr remote.Executor, host, containerId string) (*GpuContainer, error) {
	c := &GpuContainer{ContainerId: containerId}
	if err := c.setVisibleDevices(exr, host); err != nil {
		return nil, err
	}
	return c, nil
}

func shortId(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return strings.TrimSpace(id)
}
