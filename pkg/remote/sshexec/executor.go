// Package sshexec provides a remote.Executor backed by a single
// multiplexed SSH connection per host.
package sshexec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var ErrNoAddress = errors.New("host has no address")

// Options configure how an Executor connects.
type Options struct {
	User string
	// Port is used when the host string does not carry one. Defaults to 22.
	Port string
	// Signers are offered for public key authentication.
	Signers []ssh.Signer
	// KnownHostsFile enables host key verification. When empty any host
	// key is accepted.
	KnownHostsFile string
	DialTimeout    time.Duration
}

// An Executor runs shell commands on one remote host. The connection is
// set up lazily and re-established once if a new session cannot be
// opened on the existing one.
//
// An Executor must not be copied.
type Executor struct {
	host string
	opts Options

	mtx    sync.Mutex
	client *ssh.Client
}

// New returns an Executor for host ("name" or "name:port").
func New(host string, opts Options) *Executor {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = time.Minute
	}
	return &Executor{host: host, opts: opts}
}

// Host returns the target host as given to New.
func (exr *Executor) Host() string {
	return exr.host
}

// Execute runs cmd on the host in a fresh session. Env entries are
// applied in key order and a rejected entry aborts before cmd runs.
func (exr *Executor) Execute(env map[string]string, cmd string, stdin io.Reader) ([]byte, []byte, error) {
	session, err := exr.newSession()
	if err != nil {
		return nil, nil, err
	}
	defer session.Close()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := session.Setenv(k, env[k]); err != nil {
			return nil, nil, fmt.Errorf("setting %s on %s: %w", k, exr.host, err)
		}
	}
	out := &output{}
	session.Stdin, session.Stdout, session.Stderr = stdin, &out.stdout, &out.stderr
	if err := session.Run(cmd); err != nil {
		return out.stdout.Bytes(), out.stderr.Bytes(), err
	}
	return out.stdout.Bytes(), out.stderr.Bytes(), nil
}

type output struct {
	stdout, stderr bytes.Buffer
}

// Close hangs up the connection, if any.
func (exr *Executor) Close() {
	exr.mtx.Lock()
	defer exr.mtx.Unlock()
	if exr.client != nil {
		_ = exr.client.Close()
		exr.client = nil
	}
}

func (exr *Executor) newSession() (*ssh.Session, error) {
	exr.mtx.Lock()
	defer exr.mtx.Unlock()
	if exr.client != nil {
		if s, err := exr.client.NewSession(); err == nil {
			return s, nil
		}
		// stale connection, hang it up and dial again
		go exr.client.Close()
		exr.client = nil
	}
	client, err := exr.dial()
	if err != nil {
		return nil, err
	}
	exr.client = client
	return client.NewSession()
}

// TargetHostPort splits the host into host and port, falling back to the
// configured port (or "22").
func (exr *Executor) TargetHostPort() (string, string) {
	h, p, err := net.SplitHostPort(exr.host)
	if err != nil || p == "" {
		if h == "" {
			h = exr.host
		}
		if p = exr.opts.Port; p == "" {
			p = "22"
		}
	}
	return h, p
}

func (exr *Executor) dial() (*ssh.Client, error) {
	h, p := exr.TargetHostPort()
	if h == "" {
		return nil, ErrNoAddress
	}
	hostKeyCallback, err := exr.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(h, p)
	log.WithField("host", exr.host).Debugf("dialing %s as %s", addr, exr.opts.User)
	return ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            exr.opts.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(exr.opts.Signers...)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         exr.opts.DialTimeout,
	})
}

func (exr *Executor) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if exr.opts.KnownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(exr.opts.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("loading known hosts %s: %w", exr.opts.KnownHostsFile, err)
	}
	return cb, nil
}

// LoadSigners parses the given private key files.
func LoadSigners(keyFiles ...string) ([]ssh.Signer, error) {
	var signers []ssh.Signer
	for _, fnm := range keyFiles {
		raw, err := os.ReadFile(fnm)
		if err != nil {
			return nil, err
		}
		signer, err := ssh.ParsePrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", fnm, err)
		}
		signers = append(signers, signer)
	}
	return signers, nil
}
