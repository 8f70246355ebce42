// Package compose renders the docker and docker-compose command lines
// run on the remote host.
package compose

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/shlex"
)

const (
	// ListFormat renders one "name -> id" pair per running container.
	ListFormat = "{{.Names}} -> {{.ID}}"
	// ListSeparator separates name and id in ListFormat output.
	ListSeparator = " -> "

	VisibleDevicesEnv  = "NVIDIA_VISIBLE_DEVICES"
	NoVisibleDevices   = "none"
	NotebookPort       = 8888
	NotebookBasePort   = 4440
	ScriptsMountPoint  = "/scripts"
	ScriptsInterpreter = "python3"
)

// List lists running containers as "name -> id" lines.
func List() string {
	return fmt.Sprintf("docker ps --format '%s'", ListFormat)
}

// ListIds lists the full ids of running containers.
func ListIds() string {
	return "docker ps -q --no-trunc"
}

// ListDevices lists device files visible inside a container.
func ListDevices(containerId string) string {
	return fmt.Sprintf("docker exec %s /bin/ls /dev", containerId)
}

// Stop stops the given containers in one call.
func Stop(ids []string) string {
	return "docker stop " + strings.Join(ids, " ")
}

// Kill kills the given containers in one call.
func Kill(ids []string) string {
	return "docker kill " + strings.Join(ids, " ")
}

// Logs prints a container's stdout and stderr.
func Logs(id string) string {
	return fmt.Sprintf("docker logs %s 2>&1", id)
}

// RemoveStale removes a stopped container holding name, if there is one.
func RemoveStale(name string) string {
	return fmt.Sprintf("(docker ps -a | grep %[1]s) && docker rm %[1]s", name)
}

// RemoveStopped removes every stopped container.
func RemoveStopped() string {
	return "docker ps -aq | xargs docker rm"
}

// PruneImages removes dangling images.
func PruneImages() string {
	return "docker image prune -f"
}

// Build rebuilds the service image. Build arg values are passed through
// double quotes so that shell expansions such as "$(cat ~/.ssh/id_rsa)"
// run on the host.
func Build(service string, buildArgs map[string]string) string {
	var b strings.Builder
	b.WriteString("docker-compose build --no-cache")
	keys := make([]string, 0, len(buildArgs))
	for k := range buildArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " --build-arg %s=\"%s\"", k, buildArgs[k])
	}
	b.WriteString(" " + service)
	return b.String()
}

// RunOptions describe a detached docker-compose run.
type RunOptions struct {
	Name    string
	Service string
	Env     map[string]string
	// Ports maps host port to container port.
	Ports      map[int]int
	Volumes    map[string]string
	Entrypoint string
	// ServiceArgs follow the service name, e.g. notebook flags.
	ServiceArgs []string
}

// Run renders a detached run of the service.
func Run(o RunOptions) string {
	parts := []string{"docker-compose", "run", "-d"}
	for _, k := range sortedKeys(o.Env) {
		parts = append(parts, "-e", k+"="+o.Env[k])
	}
	hostPorts := make([]int, 0, len(o.Ports))
	for p := range o.Ports {
		hostPorts = append(hostPorts, p)
	}
	sort.Ints(hostPorts)
	for _, p := range hostPorts {
		parts = append(parts, "-p", fmt.Sprintf("%d:%d", p, o.Ports[p]))
	}
	for _, k := range sortedKeys(o.Volumes) {
		parts = append(parts, "-v", Quote(k+":"+o.Volumes[k]))
	}
	if o.Entrypoint != "" {
		parts = append(parts, "--entrypoint", `"`+dquoteEscaper.Replace(o.Entrypoint)+`"`)
	}
	parts = append(parts, "--name", o.Name, o.Service)
	for _, a := range o.ServiceArgs {
		parts = append(parts, Quote(a))
	}
	return strings.Join(parts, " ")
}

// ScriptEntrypoint renders the entrypoint running scripts/<script>.py.
// Args are tokenized and re-quoted so the entrypoint stays a single
// double-quoted word on the docker-compose command line.
func ScriptEntrypoint(script, args string) (string, error) {
	words, err := shlex.Split(args)
	if err != nil {
		return "", fmt.Errorf("parsing script args %q: %w", args, err)
	}
	ep := fmt.Sprintf("%s %s/%s.py", ScriptsInterpreter, ScriptsMountPoint, script)
	for _, w := range words {
		ep += " " + Quote(w)
	}
	return ep, nil
}

// NotebookHostPort is the published notebook port for a job whose lowest
// bound device is dev.
func NotebookHostPort(dev int) int {
	return NotebookBasePort + dev
}

// Quote single-quotes w for sh unless it is a plain word.
func Quote(w string) string {
	if plainWord.MatchString(w) {
		return w
	}
	return "'" + strings.ReplaceAll(w, "'", `'\''`) + "'"
}

var plainWord = regexp.MustCompile(`^[A-Za-z0-9_./:=,+@%-]+$`)

var dquoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`")

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Cd prefixes cmd with a change into dir.
func Cd(dir, cmd string) string {
	return fmt.Sprintf("cd %s && %s", Quote(dir), cmd)
}
