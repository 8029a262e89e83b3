package client_test

import (
	"os"
	"path/filepath"

	"github.com/kubev2v/doctrack/internal/client"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("client config", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "client-config")
		Expect(err).To(BeNil())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("persists and parses a config file", func() {
		filename := filepath.Join(tmpDir, "nested", "client.yaml")
		Expect(client.WriteConfig(filename, "https://docs.example.com")).To(Succeed())

		cfg, err := client.ParseConfigFile(filename)
		Expect(err).To(BeNil())
		Expect(cfg.Service.Server).To(Equal("https://docs.example.com"))
		Expect(cfg.Endpoints).To(Equal(client.DefaultEndpoints()))
		Expect(cfg.DataDir()).To(Equal(filepath.Join(tmpDir, "nested")))
	})

	It("rejects a config without server", func() {
		cfg := client.NewDefault()
		err := cfg.Validate()
		Expect(err).NotTo(BeNil())
		Expect(err.Error()).To(ContainSubstring("no server found"))
	})

	It("rejects job endpoints without an id placeholder", func() {
		cfg := client.NewDefault()
		cfg.Service.Server = "http://localhost:8080"
		cfg.Endpoints.Status = "/status"
		err := cfg.Validate()
		Expect(err).NotTo(BeNil())
		Expect(err.Error()).To(ContainSubstring("{id}"))
	})

	It("compares configs by server and endpoints", func() {
		a := client.NewDefault()
		a.Service.Server = "http://a"
		b := a.DeepCopy()
		Expect(a.Equal(b)).To(BeTrue())
		b.Service.Server = "http://b"
		Expect(a.Equal(b)).To(BeFalse())
	})
})
