package jobs

import (
	"errors"
	"regexp"
	"testing"

	"github.com/AccessibleAI/gpu-deploy/pkg/compose"
	"github.com/AccessibleAI/gpu-deploy/pkg/remote"
	"github.com/AccessibleAI/gpu-deploy/pkg/remote/remotetest"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestJobs(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Job Registry Suite")
}

const listing = `eric_atlab_notebook_gpu_0_1 -> c0ffee01
eric_atlab_train_gpu_2_3 -> c0ffee02
bob_atlab_train_gpu_4 -> c0ffee03
WARNING: something unrelated
eric_atlab_train_no_gpu -> c0ffee04
`

var _ = Describe("job registry", func() {

	var (
		exr *remotetest.Executor
		reg *Registry
	)

	BeforeEach(func() {
		exr = &remotetest.Executor{}
		exr.On(compose.List(), remotetest.Response{Stdout: listing})
		reg = NewRegistry(exr, "gpu1")
	})

	It("lists running jobs and skips lines without a separator", func() {
		running, err := reg.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(running).To(HaveLen(4))
		Expect(running[0]).To(Equal(RunningJob{Name: "eric_atlab_notebook_gpu_0_1", Id: "c0ffee01"}))
	})

	It("resolves wildcard patterns", func() {
		matched, err := reg.Resolve("eric_atlab_train_gpu_*")
		Expect(err).NotTo(HaveOccurred())
		Expect(matched).To(Equal([]RunningJob{{Name: "eric_atlab_train_gpu_2_3", Id: "c0ffee02"}}))

		matched, err = reg.Resolve("*_atlab_train_gpu_?")
		Expect(err).NotTo(HaveOccurred())
		Expect(matched).To(Equal([]RunningJob{{Name: "bob_atlab_train_gpu_4", Id: "c0ffee03"}}))

		matched, err = reg.Resolve("eric_atlab_[nt]*")
		Expect(err).NotTo(HaveOccurred())
		Expect(matched).To(HaveLen(3))
	})

	It("returns an empty result when nothing matches", func() {
		matched, err := reg.Resolve("alice_*")
		Expect(err).NotTo(HaveOccurred())
		Expect(matched).To(BeEmpty())
	})

	It("rejects malformed patterns before querying", func() {
		_, err := reg.Resolve("eric_[")
		Expect(err).To(HaveOccurred())
		Expect(exr.Commands()).To(BeEmpty())
	})

	It("stops matching jobs in one batched call", func() {
		stopped, err := reg.StopMatching("eric_atlab_*_gpu_*")
		Expect(err).NotTo(HaveOccurred())
		Expect(stopped).To(HaveLen(2))
		Expect(exr.CommandsWithPrefix("docker stop")).To(Equal([]string{"docker stop c0ffee01 c0ffee02"}))
	})

	It("kills matching jobs in one batched call", func() {
		_, err := reg.KillMatching("eric_atlab_train_no_gpu*")
		Expect(err).NotTo(HaveOccurred())
		Expect(exr.CommandsWithPrefix("docker kill")).To(Equal([]string{"docker kill c0ffee04"}))
	})

	It("stops only the matches a predicate keeps", func() {
		stopped, err := reg.StopWhere("eric_atlab_*", func(j RunningJob) bool { return j.Id != "c0ffee02" })
		Expect(err).NotTo(HaveOccurred())
		Expect(stopped).To(HaveLen(2))
		Expect(exr.CommandsWithPrefix("docker stop")).To(Equal([]string{"docker stop c0ffee01 c0ffee04"}))
	})

	It("sends nothing when the predicate drops every match", func() {
		killed, err := reg.KillWhere("eric_*", func(RunningJob) bool { return false })
		Expect(err).NotTo(HaveOccurred())
		Expect(killed).To(BeEmpty())
		Expect(exr.CommandsWithPrefix("docker kill")).To(BeEmpty())
	})

	It("sends nothing when no job matches", func() {
		stopped, err := reg.StopMatching("alice_*")
		Expect(err).NotTo(HaveOccurred())
		Expect(stopped).To(BeEmpty())
		Expect(exr.Commands()).To(Equal([]string{compose.List()}))
	})

	It("checks exact names", func() {
		ok, err := reg.Exists("eric_atlab_train_gpu_2_3")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		ok, err = reg.Exists("eric_atlab_train_gpu_2")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("propagates backend failures", func() {
		exr = &remotetest.Executor{}
		exr.On(compose.List(), remotetest.Response{Exit: 1, Stderr: "permission denied"})
		_, err := NewRegistry(exr, "gpu1").StopMatching("*")
		var cerr *remote.CommandError
		Expect(errors.As(err, &cerr)).To(BeTrue())
		Expect(cerr.ExitCode).To(Equal(1))
	})

	Context("logs", func() {
		BeforeEach(func() {
			exr.On(compose.Logs("c0ffee02"), remotetest.Response{Stdout: "epoch 1 loss 0.9\nsaving\nepoch 2 loss 0.4\n"})
			exr.On(compose.Logs("c0ffee01"), remotetest.Response{Stdout: "notebook started\n"})
		})

		It("filters lines of an exact job", func() {
			logs, err := reg.Logs("eric_atlab_train_gpu_2_3", false, regexp.MustCompile(`^epoch`))
			Expect(err).NotTo(HaveOccurred())
			Expect(logs).To(HaveLen(1))
			Expect(logs[0].Lines).To(Equal([]string{"epoch 1 loss 0.9", "epoch 2 loss 0.4"}))
		})

		It("collects logs of every wildcard match", func() {
			logs, err := reg.Logs("eric_atlab_*_gpu_*", true, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(logs).To(HaveLen(2))
			Expect(logs[0].Lines).To(Equal([]string{"notebook started"}))
			Expect(logs[1].Lines).To(HaveLen(3))
		})

		It("does not treat an exact name as a pattern", func() {
			logs, err := reg.Logs("eric_atlab_*", false, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(logs).To(BeEmpty())
		})
	})
})
