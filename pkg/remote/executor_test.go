package remote

import (
	"errors"
	"strings"
	"testing"

	"github.com/AccessibleAI/gpu-deploy/pkg/remote/remotetest"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestRemote(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Remote Suite")
}

var _ = Describe("remote commands", func() {

	Context("local executor", func() {
		It("captures stdout", func() {
			out, err := Run(Local{}, "localhost", "echo hello")
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.TrimSpace(out)).To(Equal("hello"))
		})
		It("passes stdin through", func() {
			out, err := RunWithInput(Local{}, "localhost", "cat", strings.NewReader("abc"))
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal("abc"))
		})
		It("returns exit codes as CommandError", func() {
			_, err := Run(Local{}, "localhost", "echo oops >&2; exit 4")
			var cerr *CommandError
			Expect(errors.As(err, &cerr)).To(BeTrue())
			Expect(cerr.ExitCode).To(Equal(4))
			Expect(cerr.Stderr).To(ContainSubstring("oops"))
			Expect(cerr.Unreachable()).To(BeFalse())
		})
	})

	Context("warn-only", func() {
		It("swallows failures", func() {
			f := (&remotetest.Executor{}).On("docker rm", remotetest.Response{Exit: 1, Stderr: "No such container"})
			Expect(func() { RunWarnOnly(f, "gpu01", "docker rm abc") }).NotTo(Panic())
			Expect(f.Commands()).To(Equal([]string{"docker rm abc"}))
		})
	})

	Context("signaled commands", func() {
		It("are reported as having run", func() {
			_, err := Run(Local{}, "localhost", "kill -9 $$")
			var cerr *CommandError
			Expect(errors.As(err, &cerr)).To(BeTrue())
			Expect(cerr.ExitCode).To(Equal(137))
			Expect(cerr.Unreachable()).To(BeFalse())
		})
	})

	Context("unreachable hosts", func() {
		It("reports a negative exit code", func() {
			f := (&remotetest.Executor{}).On("", remotetest.Response{Err: errors.New("dial tcp: connection refused")})
			_, err := Run(f, "gpu01", "ls /dev/nvidia*")
			var cerr *CommandError
			Expect(errors.As(err, &cerr)).To(BeTrue())
			Expect(cerr.Unreachable()).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("connection refused"))
		})
	})
})
