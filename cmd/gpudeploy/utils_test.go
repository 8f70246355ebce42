package main

import (
	"testing"

	"github.com/jedib0t/go-pretty/v6/table"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"
)

func TestGpuDeployCli(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "gpu-deploy CLI Suite")
}

var _ = Describe("cli helpers", func() {

	It("describes job names created by deploy", func() {
		script, devices := formatJobName("eric_atlab_train_gpu_0_1")
		Expect(script).To(Equal("train"))
		Expect(devices).To(Equal("0,1"))

		script, devices = formatJobName("eric_atlab_notebook_no_gpu")
		Expect(script).To(Equal("notebook"))
		Expect(devices).To(Equal("none"))

		script, devices = formatJobName("postgres")
		Expect(script).To(Equal("-"))
		Expect(devices).To(Equal("-"))
	})

	It("splits comma separated lists", func() {
		Expect(splitList(" a, b,,c ")).To(Equal([]string{"a", "b", "c"}))
		Expect(splitList("")).To(BeEmpty())
	})

	It("orders rows by host", func() {
		rc := &rowCollector{}
		rc.add("gpu2", table.Row{"gpu2", "x"})
		rc.add("gpu1", table.Row{"gpu1", "y"}, table.Row{"gpu1", "z"})
		Expect(rc.sorted()).To(Equal([]table.Row{{"gpu1", "y"}, {"gpu1", "z"}, {"gpu2", "x"}}))
	})

	It("renders a table", func() {
		to := &TableOutput{header: table.Row{"Host", "Free"}, body: []table.Row{{"gpu1", "0,1"}}}
		to.buildTable()
		Expect(string(to.data)).To(ContainSubstring("gpu1"))
		Expect(to.rowsCount()).To(BeNumerically(">", 2))
	})

	Context("target hosts", func() {
		AfterEach(func() {
			viper.Reset()
		})

		It("defaults to this machine with --local", func() {
			viper.Set(flagLocal, true)
			hosts, err := targetHosts()
			Expect(err).NotTo(HaveOccurred())
			Expect(hosts).To(Equal([]string{"localhost"}))
		})

		It("uses explicit hosts minus exclusions", func() {
			viper.Set(flagHosts, "gpu1,gpu2,gpu3")
			viper.Set(flagExclude, "gpu2")
			hosts, err := targetHosts()
			Expect(err).NotTo(HaveOccurred())
			Expect(hosts).To(Equal([]string{"gpu1", "gpu3"}))
		})
	})
})
