package sshexec

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/AccessibleAI/gpu-deploy/pkg/remote"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/ssh"
)

func TestSSHExecutor(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "SSH Executor Suite")
}

type execFunc func(cmd string, stdin io.Reader, stdout, stderr io.Writer) uint32

// sshService accepts connections on a loopback port and hands "exec"
// requests to the exec func.
type sshService struct {
	exec     execFunc
	hostKey  ssh.Signer
	user     string
	clientPK ssh.PublicKey
	listener net.Listener
}

func newSigner() ssh.Signer {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	Expect(err).NotTo(HaveOccurred())
	s, err := ssh.NewSignerFromKey(priv)
	Expect(err).NotTo(HaveOccurred())
	return s
}

func (ss *sshService) start() {
	config := &ssh.ServerConfig{
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if c.User() == ss.user && bytes.Equal(key.Marshal(), ss.clientPK.Marshal()) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key for %q", c.User())
		},
	}
	config.AddHostKey(ss.hostKey)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	ss.listener = ln
	go func() {
		for {
			nConn, err := ln.Accept()
			if err != nil {
				return
			}
			go ss.serveConn(nConn, config)
		}
	}()
}

func (ss *sshService) serveConn(nConn net.Conn, config *ssh.ServerConfig) {
	defer nConn.Close()
	conn, chans, reqs, err := ssh.NewServerConn(nConn, config)
	if err != nil {
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)
	for newch := range chans {
		if newch.ChannelType() != "session" {
			_ = newch.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, chReqs, err := newch.Accept()
		if err != nil {
			return
		}
		go func() {
			for req := range chReqs {
				switch req.Type {
				case "exec":
					var execReq struct{ Command string }
					_ = ssh.Unmarshal(req.Payload, &execReq)
					_ = req.Reply(true, nil)
					go func() {
						status := struct{ Status uint32 }{ss.exec(execReq.Command, ch, ch, ch.Stderr())}
						_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(&status))
						_ = ch.Close()
					}()
				default:
					_ = req.Reply(true, nil)
				}
			}
		}()
	}
}

func (ss *sshService) port() string {
	_, p, _ := net.SplitHostPort(ss.listener.Addr().String())
	return p
}

var _ = Describe("ssh executor", func() {

	var (
		svc    *sshService
		client ssh.Signer
	)

	BeforeEach(func() {
		client = newSigner()
		svc = &sshService{hostKey: newSigner(), user: "eric", clientPK: client.PublicKey()}
	})

	AfterEach(func() {
		if svc.listener != nil {
			_ = svc.listener.Close()
		}
	})

	It("runs a command and captures output", func() {
		svc.exec = func(cmd string, stdin io.Reader, stdout, stderr io.Writer) uint32 {
			in, _ := io.ReadAll(stdin)
			_, _ = io.WriteString(stdout, cmd+"|"+string(in))
			return 0
		}
		svc.start()
		exr := New("127.0.0.1", Options{User: "eric", Port: svc.port(), Signers: []ssh.Signer{client}})
		defer exr.Close()
		out, err := remote.RunWithInput(exr, "127.0.0.1", "ls /dev/nvidia*", bytes.NewBufferString("payload"))
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("ls /dev/nvidia*|payload"))
		// second command reuses the connection
		out, err = remote.Run(exr, "127.0.0.1", "true")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("true|"))
	})

	It("reports the exit status of a failed command", func() {
		svc.exec = func(cmd string, stdin io.Reader, stdout, stderr io.Writer) uint32 {
			_, _ = io.WriteString(stderr, "no such container")
			return 3
		}
		svc.start()
		exr := New("127.0.0.1:"+svc.port(), Options{User: "eric", Signers: []ssh.Signer{client}})
		defer exr.Close()
		_, err := remote.Run(exr, "gpu01", "docker stop abc")
		var cerr *remote.CommandError
		Expect(err).To(BeAssignableToTypeOf(cerr))
		cerr = err.(*remote.CommandError)
		Expect(cerr.ExitCode).To(Equal(3))
		Expect(cerr.Unreachable()).To(BeFalse())
		Expect(cerr.Error()).To(ContainSubstring("no such container"))
	})

	It("marks connection failures unreachable", func() {
		svc.start()
		p := svc.port()
		_ = svc.listener.Close()
		exr := New("127.0.0.1", Options{User: "eric", Port: p, Signers: []ssh.Signer{client}})
		_, err := remote.Run(exr, "gpu01", "true")
		Expect(err).To(HaveOccurred())
		Expect(err.(*remote.CommandError).Unreachable()).To(BeTrue())
	})

	It("splits host and port", func() {
		h, p := New("gpu01:2222", Options{}).TargetHostPort()
		Expect(h).To(Equal("gpu01"))
		Expect(p).To(Equal("2222"))
		h, p = New("gpu01", Options{Port: "2022"}).TargetHostPort()
		Expect(h).To(Equal("gpu01"))
		Expect(p).To(Equal("2022"))
		_, p = New("gpu01", Options{}).TargetHostPort()
		Expect(p).To(Equal("22"))
	})
})
