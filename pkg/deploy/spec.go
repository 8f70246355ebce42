package deploy

import (
	"path"
	"path/filepath"
	"regexp"

	"github.com/AccessibleAI/gpu-deploy/pkg/compose"
	"github.com/AccessibleAI/gpu-deploy/pkg/jobname"
)

const (
	EnvFileName   = ".env"
	remoteDirName = ".gpu-deploy"
)

// container names accepted by the backend
var nameSegmentRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// JobSpec describes the jobs of one deploy, stop or kill call.
type JobSpec struct {
	Owner    string
	Service  string
	Workload jobname.Workload
	// GpuCount devices per job, 0 runs a single job without accelerators.
	GpuCount int
	// MaxCount caps the number of jobs started by one deploy.
	MaxCount int
}

func (s JobSpec) Accelerated() bool {
	return s.GpuCount > 0
}

func (s JobSpec) validate() error {
	if s.Workload == nil {
		return configErr("workload", "a notebook or a script is required")
	}
	if _, err := jobname.NewCodec(s.Owner, s.Service); err != nil {
		return configErr("owner/service", "%s", err)
	}
	for field, v := range map[string]string{"owner": s.Owner, "service": s.Service, "script": s.Workload.Segment()} {
		if !nameSegmentRe.MatchString(v) {
			return configErr(field, "%q is not a valid container name segment", v)
		}
	}
	if sc, ok := s.Workload.(jobname.Script); ok {
		if sc.Name == jobname.NotebookSegment {
			return configErr("script", "%q is reserved for notebooks", sc.Name)
		}
		if _, err := compose.ScriptEntrypoint(sc.Name, sc.Args); err != nil {
			return configErr("script args", "%s", err)
		}
	}
	if s.GpuCount < 0 {
		return configErr("gpu count", "%d is negative", s.GpuCount)
	}
	if s.MaxCount < 1 {
		return configErr("max count", "%d, at least one job is required", s.MaxCount)
	}
	return nil
}

// Assets are the local directories and files staged on the host before
// building the service image.
type Assets struct {
	// DockerDir holds the docker-compose project and build context.
	DockerDir string
	// ScriptsDir is mounted at /scripts for script workloads.
	ScriptsDir string
	// EnvFile is optional and must be named .env.
	EnvFile string
}

func (a *Assets) validate(spec JobSpec) error {
	if a.DockerDir == "" {
		return configErr("docker dir", "required")
	}
	if a.EnvFile != "" && filepath.Base(a.EnvFile) != EnvFileName {
		return configErr("env file", "%s must be named %s", a.EnvFile, EnvFileName)
	}
	if _, script := spec.Workload.(jobname.Script); script && a.ScriptsDir == "" {
		return configErr("scripts dir", "required to run a script")
	}
	if a.ScriptsDir != "" {
		base := filepath.Base(filepath.Clean(a.ScriptsDir))
		if base == spec.Owner {
			return configErr("scripts dir", "directory name %q must differ from the owner", base)
		}
		if base == "." || base == string(filepath.Separator) {
			return configErr("scripts dir", "%s has no usable name", a.ScriptsDir)
		}
	}
	return nil
}

// layout is where assets live on the host.
type layout struct {
	root       string
	dockerDir  string
	scriptsDir string
	envFile    string
}

func newLayout(root, owner string, a *Assets) layout {
	l := layout{
		root:      root,
		dockerDir: path.Join(root, owner),
	}
	if a.ScriptsDir != "" {
		l.scriptsDir = path.Join(root, filepath.Base(filepath.Clean(a.ScriptsDir)))
	}
	if a.EnvFile != "" {
		l.envFile = path.Join(l.dockerDir, EnvFileName)
	}
	return l
}

// DefaultRemoteRoot is the per-owner staging directory.
func DefaultRemoteRoot(owner string) string {
	return path.Join("/home", owner, remoteDirName)
}

// DefaultBuildArgs hand the owner's ssh key pair on the host to the image
// build.
func DefaultBuildArgs() map[string]string {
	return map[string]string{
		"ssh_prv_key": "$(cat ~/.ssh/id_rsa)",
		"ssh_pub_key": "$(cat ~/.ssh/id_rsa.pub)",
	}
}
