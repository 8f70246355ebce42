// Package jobname encodes job names as
//
//	{owner}_{service}_{script|notebook}_gpu_{id}_{id}...
//	{owner}_{service}_{script|notebook}_no_gpu
//
// so that running jobs can be found again by owner, service and script
// without any state kept between invocations.
package jobname

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/AccessibleAI/gpu-deploy/pkg/allocator"
)

const (
	NotebookSegment = "notebook"
	gpuSegment      = "gpu"
	noGpuSegment    = "no_gpu"
	sep             = "_"
)

var gpuSuffix = regexp.MustCompile(`^(.*)_gpu((?:_\d+)+)$`)

// Codec builds names for one owner and service.
type Codec struct {
	Owner   string
	Service string
}

// NewCodec validates owner and service. Neither may be empty or contain
// the separator, otherwise names could not be decoded unambiguously.
func NewCodec(owner, service string) (*Codec, error) {
	for what, v := range map[string]string{"owner": owner, "service": service} {
		if v == "" {
			return nil, fmt.Errorf("%s must not be empty", what)
		}
		if strings.Contains(v, sep) {
			return nil, fmt.Errorf("%s %q must not contain %q", what, v, sep)
		}
	}
	return &Codec{Owner: owner, Service: service}, nil
}

func (c *Codec) prefix(w Workload) string {
	return strings.Join([]string{c.Owner, c.Service, w.Segment()}, sep)
}

// Encode names the job running w on the device group.
func (c *Codec) Encode(w Workload, group allocator.DeviceGroup) string {
	return c.prefix(w) + sep + gpuSegment + sep + group.Join(sep)
}

// EncodeNoGPU names the job running w without accelerators.
func (c *Codec) EncodeNoGPU(w Workload) string {
	return c.prefix(w) + sep + noGpuSegment
}

// Pattern returns a wildcard matching every name Encode (accelerated) or
// EncodeNoGPU produces for w, whatever devices the jobs hold.
func (c *Codec) Pattern(w Workload, accelerated bool) string {
	if accelerated {
		return c.prefix(w) + sep + gpuSegment + sep + "*"
	}
	return c.EncodeNoGPU(w) + "*"
}

// Owns reports whether name was produced by Encode (accelerated) or
// EncodeNoGPU for w. Pattern alone also matches scripts whose names
// extend w's, e.g. train_gpu_model for train.
func (c *Codec) Owns(name string, w Workload, accelerated bool) bool {
	p, err := Decode(name)
	if err != nil {
		return false
	}
	script := w.Segment()
	if script == NotebookSegment {
		script = ""
	}
	return p.Owner == c.Owner && p.Service == c.Service && p.Script == script && p.GPU == accelerated
}

// Parts are the fields recovered from a job name.
type Parts struct {
	Owner   string
	Service string
	// Script is empty for notebooks.
	Script  string
	GPU     bool
	Devices allocator.DeviceGroup
}

// Decode parses a name produced by Encode or EncodeNoGPU.
func Decode(name string) (*Parts, error) {
	p := &Parts{}
	var head string
	if strings.HasSuffix(name, sep+noGpuSegment) {
		head = strings.TrimSuffix(name, sep+noGpuSegment)
	} else if m := gpuSuffix.FindStringSubmatch(name); m != nil {
		head = m[1]
		p.GPU = true
		for _, d := range strings.Split(strings.TrimPrefix(m[2], sep), sep) {
			idx, err := strconv.Atoi(d)
			if err != nil {
				return nil, fmt.Errorf("bad device index %q in %s", d, name)
			}
			p.Devices = append(p.Devices, idx)
		}
	} else {
		return nil, fmt.Errorf("%s: no gpu or no_gpu segment", name)
	}
	fields := strings.SplitN(head, sep, 3)
	if len(fields) != 3 || fields[0] == "" || fields[1] == "" || fields[2] == "" {
		return nil, fmt.Errorf("%s: expected owner_service_script", name)
	}
	p.Owner, p.Service = fields[0], fields[1]
	if fields[2] != NotebookSegment {
		p.Script = fields[2]
	}
	return p, nil
}
