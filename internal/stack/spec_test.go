package stack

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kubesmoke.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	g := NewWithT(t)

	path := writeConfig(t, `
external_context: rancher-desktop
stacks:
  - name: homepage
    kind: page
    build_context: ./homepage
    image_tag: homepage:test
    manifests:
      - homepage/homepage-deployment.yaml
    deployment: homepage
    container: homepage
    service: homepage
    local_port: 30080
    probe:
      fragment: Temperature
  - name: text-to-speech
    kind: asyncjob
    build_context: ./tts
    image_tag: tts:test
    manifests:
      - tts/k8s/deployment.yaml
    deployment: tts
    container: tts
    service: tts
    local_port: 30082
    rollout_timeout: 90s
    probe:
      submit_path: /api/jobs
      status_path: /api/jobs
      content_type: audio/mpeg
      file_field: file
      file_content: Hello.
      timeout: 2m
`)

	config, err := LoadConfig(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(config.ExternalContext).To(Equal("rancher-desktop"))
	g.Expect(config.Stacks).To(HaveLen(2))

	homepage := config.Stacks[0]
	g.Expect(homepage.RolloutTimeout.Std()).To(Equal(2 * time.Minute))
	g.Expect(homepage.Probe.Path).To(Equal("/"))
	g.Expect(homepage.Probe.Timeout.Std()).To(Equal(time.Minute))

	tts := config.Stacks[1]
	g.Expect(tts.RolloutTimeout.Std()).To(Equal(90 * time.Second))
	g.Expect(tts.Probe.Timeout.Std()).To(Equal(2 * time.Minute))
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{
			name:   "no stacks",
			config: "stacks: []\n",
		},
		{
			name: "unknown kind",
			config: `
stacks:
  - name: homepage
    kind: cron
    build_context: ./homepage
    image_tag: homepage:test
    manifests: [homepage/homepage-deployment.yaml]
    deployment: homepage
    container: homepage
    service: homepage
    local_port: 30080
`,
		},
		{
			name: "uppercase stack name",
			config: `
stacks:
  - name: Homepage
    kind: page
    build_context: ./homepage
    image_tag: homepage:test
    manifests: [homepage/homepage-deployment.yaml]
    deployment: homepage
    container: homepage
    service: homepage
    local_port: 30080
`,
		},
		{
			name: "privileged local port",
			config: `
stacks:
  - name: homepage
    kind: page
    build_context: ./homepage
    image_tag: homepage:test
    manifests: [homepage/homepage-deployment.yaml]
    deployment: homepage
    container: homepage
    service: homepage
    local_port: 80
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			_, err := LoadConfig(writeConfig(t, tt.config))
			g.Expect(err).To(HaveOccurred())
		})
	}
}

func TestLoadConfigPortCollision(t *testing.T) {
	g := NewWithT(t)

	path := writeConfig(t, `
stacks:
  - name: homepage
    kind: page
    build_context: ./homepage
    image_tag: homepage:test
    manifests: [homepage/homepage-deployment.yaml]
    deployment: homepage
    container: homepage
    service: homepage
    local_port: 30080
  - name: speedtest
    kind: jsonlist
    build_context: ./speedtest
    image_tag: speedtest:test
    manifests: [speedtest/k8s/deployment.yaml]
    deployment: speedtest
    container: speedtest
    service: speedtest
    local_port: 30080
`)

	_, err := LoadConfig(path)
	g.Expect(err).To(MatchError(ContainSubstring("local port 30080")))
}

func TestDefaultConfig(t *testing.T) {
	g := NewWithT(t)

	config := DefaultConfig()
	g.Expect(config.Stacks).To(HaveLen(2))

	speedtest := config.Stacks[1]
	g.Expect(speedtest.Secret).NotTo(BeNil())
	g.Expect(speedtest.Secret.Name).To(Equal("speedtest-db-app-user"))
	g.Expect(speedtest.Database.Resource).To(Equal("cluster/speedtest-db"))
	g.Expect(speedtest.Database.Timeout.Std()).To(Equal(5 * time.Minute))

	g.Expect(config.Manifests()).To(HaveLen(4))
}
