package config_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/dexplain/pkg/config"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config")
}

func write(content string) string {
	path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
	Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
	return path
}

var _ = Describe("Config", func() {
	It("should load the defaults", func() {
		c, err := config.Load("")
		Expect(err).NotTo(HaveOccurred())
		Expect(c).To(Equal(config.Default()))
		Expect(c.EngineOptions().DisableMetrics).To(BeTrue())
	})

	It("should load a config file", func() {
		c, err := config.Load(write(`
workers: 4
shards: 16
correctionRounds: 2
logLevel: debug
metrics:
  enabled: true
  address: localhost:9090
`))
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Workers).To(Equal(4))
		Expect(c.Shards).To(Equal(16))
		Expect(c.CorrectionRounds).To(Equal(2))
		Expect(c.LogLevel).To(Equal("debug"))
		Expect(c.Metrics.Enabled).To(BeTrue())

		opts := c.EngineOptions()
		Expect(opts.Workers).To(Equal(4))
		Expect(opts.Shards).To(Equal(16))
		Expect(opts.CorrectionRounds).To(Equal(2))
		Expect(opts.DisableMetrics).To(BeFalse())
	})

	It("should reject unknown fields", func() {
		_, err := config.Load(write("workerz: 4\n"))
		Expect(err).To(HaveOccurred())
	})

	It("should reject values out of bounds", func() {
		_, err := config.Load(write("workers: 0\n"))
		Expect(err).To(HaveOccurred())
		_, err = config.Load(write("shards: 2000\n"))
		Expect(err).To(HaveOccurred())
		_, err = config.Load(write("correctionRounds: 65\n"))
		Expect(err).To(HaveOccurred())
		_, err = config.Load(write("logLevel: loud\n"))
		Expect(err).To(HaveOccurred())
	})

	It("should apply environment overrides", func() {
		GinkgoT().Setenv(config.EnvPrefix+"WORKERS", "8")
		GinkgoT().Setenv(config.EnvPrefix+"LOG_LEVEL", "3")
		GinkgoT().Setenv(config.EnvPrefix+"METRICS_ENABLED", "true")
		c, err := config.Load(write("workers: 2\n"))
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Workers).To(Equal(8))
		Expect(c.LogLevel).To(Equal("3"))
		Expect(c.Metrics.Enabled).To(BeTrue())

		GinkgoT().Setenv(config.EnvPrefix+"SHARDS", "many")
		_, err = config.Load("")
		Expect(err).To(HaveOccurred())
	})
})
