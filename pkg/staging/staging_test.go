package staging

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/AccessibleAI/gpu-deploy/pkg/remote"
	"github.com/AccessibleAI/gpu-deploy/pkg/remote/remotetest"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestStaging(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Staging Suite")
}

func writeFile(root, rel, content string) {
	p := filepath.Join(root, rel)
	Expect(os.MkdirAll(filepath.Dir(p), 0755)).To(Succeed())
	Expect(os.WriteFile(p, []byte(content), 0644)).To(Succeed())
}

func tarNames(gz []byte) (names []string) {
	zr, err := gzip.NewReader(bytes.NewReader(gz))
	Expect(err).NotTo(HaveOccurred())
	tr := tar.NewReader(zr)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		Expect(err).NotTo(HaveOccurred())
		names = append(names, h.Name)
	}
	sort.Strings(names)
	return
}

var _ = Describe("staging", func() {

	var (
		src string
		tmp []string
		exr *remotetest.Executor
	)

	tempDir := func() string {
		d, err := os.MkdirTemp("", "staging-test-")
		Expect(err).NotTo(HaveOccurred())
		tmp = append(tmp, d)
		return d
	}

	AfterEach(func() {
		for _, d := range tmp {
			_ = os.RemoveAll(d)
		}
		tmp = nil
	})

	BeforeEach(func() {
		src = tempDir()
		writeFile(src, "Dockerfile", "FROM ubuntu\n")
		writeFile(src, "docker-compose.yml", "services: {}\n")
		writeFile(src, "data/big.bin", "xxxx")
		writeFile(src, "weights/model.ckpt", "yyyy")
		writeFile(src, "weights/README", "keep")
		writeFile(src, IgnoreFileName, "data\n*/*.ckpt\n")
		exr = &remotetest.Executor{}
	})

	It("streams a filtered tarball into tar on the host", func() {
		Expect(CopyToHost(exr, "gpu1", src, "/home/eric/.gpu-deploy/eric")).To(Succeed())
		calls := exr.Calls()
		Expect(calls).To(HaveLen(1))
		Expect(calls[0].Cmd).To(Equal("mkdir -p /home/eric/.gpu-deploy/eric && tar -xzf - -C /home/eric/.gpu-deploy/eric"))
		Expect(tarNames(calls[0].Stdin)).To(Equal([]string{
			".dockerignore", "Dockerfile", "docker-compose.yml", "weights/", "weights/README",
		}))
	})

	It("extracts through a local shell", func() {
		dst := filepath.Join(tempDir(), "ctx")
		Expect(CopyToHost(remote.Local{}, "localhost", src, dst)).To(Succeed())
		b, err := os.ReadFile(filepath.Join(dst, "weights", "README"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(b)).To(Equal("keep"))
		_, err = os.Stat(filepath.Join(dst, "data"))
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("wraps a failed extraction in a transfer error", func() {
		exr.On("mkdir -p", remotetest.Response{Exit: 2, Stderr: "tar: short read"})
		err := CopyToHost(exr, "gpu1", src, "/tmp/x")
		var terr *TransferError
		Expect(errors.As(err, &terr)).To(BeTrue())
		Expect(terr.Host).To(Equal("gpu1"))
		var cerr *remote.CommandError
		Expect(errors.As(err, &cerr)).To(BeTrue())
	})

	It("fails before contacting the host when the source is missing", func() {
		err := CopyToHost(exr, "gpu1", filepath.Join(src, "nope"), "/tmp/x")
		var terr *TransferError
		Expect(errors.As(err, &terr)).To(BeTrue())
		Expect(exr.Commands()).To(BeEmpty())
	})

	It("copies single files through cat", func() {
		writeFile(src, ".env", "A=1\n")
		Expect(CopyFileToHost(exr, "gpu1", filepath.Join(src, ".env"), "/home/eric/.gpu-deploy/eric/.env")).To(Succeed())
		calls := exr.Calls()
		Expect(calls[0].Cmd).To(Equal("mkdir -p /home/eric/.gpu-deploy/eric && cat > /home/eric/.gpu-deploy/eric/.env"))
		Expect(string(calls[0].Stdin)).To(Equal("A=1\n"))
	})

	It("resets the remote root", func() {
		Expect(Reset(exr, "gpu1", "/home/eric/.gpu-deploy")).To(Succeed())
		Expect(exr.Commands()).To(Equal([]string{"rm -rf /home/eric/.gpu-deploy && mkdir -p /home/eric/.gpu-deploy"}))
	})
})
