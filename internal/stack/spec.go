// Package stack deploys one application-under-test into the selected
// cluster and verifies it is serving, walking a fixed stage sequence and
// registering teardown for every resource the moment it is created.
package stack

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Kind selects the verification probe strategy for a stack. Adding an
// application kind means adding a probe variant, not changing the
// deployment state machine.
type Kind string

const (
	// KindPage probes a plain web page for an expected body fragment.
	KindPage Kind = "page"
	// KindJSONList probes a JSON API whose response must be a list.
	KindJSONList Kind = "jsonlist"
	// KindAsyncJob submits a job, then polls its status endpoint until
	// the response Content-Type indicates a completed binary artifact.
	KindAsyncJob Kind = "asyncjob"
)

// SecretSpec describes a credential secret a stack needs before its
// workload starts.
type SecretSpec struct {
	Name     string            `yaml:"name" validate:"required,dns_name"`
	Literals map[string]string `yaml:"literals" validate:"required,min=1"`
}

// DatabaseSpec names a database custom resource the operator must
// reconcile to Ready before the application rollout is awaited.
type DatabaseSpec struct {
	// Resource in kubectl type/name form, e.g. "cluster/speedtest-db".
	Resource string   `yaml:"resource" validate:"required"`
	Timeout  Duration `yaml:"timeout"`
}

// ProbeSpec configures the stack's verification probe. Which fields apply
// depends on the stack kind.
type ProbeSpec struct {
	// Path is the GET path for page and jsonlist probes.
	Path string `yaml:"path"`
	// Fragment is the body substring a page probe requires.
	Fragment string `yaml:"fragment"`

	// SubmitPath receives the asyncjob multipart POST.
	SubmitPath string `yaml:"submit_path"`
	// StatusPath is the asyncjob status endpoint; the job id is appended.
	StatusPath string `yaml:"status_path"`
	// ContentType marks a completed asyncjob artifact, e.g. "audio/mpeg".
	ContentType string `yaml:"content_type"`
	// FileField and FileContent form the uploaded file part.
	FileField   string            `yaml:"file_field"`
	FileContent string            `yaml:"file_content"`
	Form        map[string]string `yaml:"form"`

	// Timeout bounds asyncjob status polling, independent of the stack's
	// rollout timeout.
	Timeout Duration `yaml:"timeout"`
}

// Spec is the static descriptor of one application stack under test.
// Read-only once loaded.
type Spec struct {
	Slug string `yaml:"name" validate:"required,dns_name"`

	Kind Kind `yaml:"kind" validate:"required,stack_kind"`

	// BuildContext is the image build context path, relative to the
	// orchestrator's working root.
	BuildContext string `yaml:"build_context" validate:"required"`
	ImageTag     string `yaml:"image_tag" validate:"required"`

	Manifests []string `yaml:"manifests" validate:"required,min=1"`

	Deployment string `yaml:"deployment" validate:"required,dns_name"`
	Container  string `yaml:"container" validate:"required,dns_name"`
	Service    string `yaml:"service" validate:"required,dns_name"`

	// LocalPort is the fixed local port for this stack's port-forward.
	// Distinct per stack so stacks could run in parallel some day.
	LocalPort int `yaml:"local_port" validate:"gte=1024,lte=65535"`

	Secret   *SecretSpec   `yaml:"secret"`
	Database *DatabaseSpec `yaml:"database"`

	RolloutTimeout Duration `yaml:"rollout_timeout"`

	Probe ProbeSpec `yaml:"probe"`
}

// Config is the orchestrator's run configuration.
type Config struct {
	// ExternalContext overrides the externally-managed context name.
	ExternalContext string `yaml:"external_context"`
	// ClusterName overrides the disposable cluster name.
	ClusterName string `yaml:"cluster_name"`

	Stacks []Spec `yaml:"stacks" validate:"required,min=1,dive"`
}

var (
	validate    *validator.Validate
	dnsNameRe   = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
	validKinds  = map[Kind]bool{KindPage: true, KindJSONList: true, KindAsyncJob: true}
	defaultWait = Duration(120 * time.Second)
)

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("dns_name", func(fl validator.FieldLevel) bool {
		return dnsNameRe.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation("stack_kind", func(fl validator.FieldLevel) bool {
		return validKinds[Kind(fl.Field().String())]
	})
}

// LoadConfig reads and validates a YAML run configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	config.applyDefaults()
	if err := validate.Struct(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Fixed local ports are a per-stack resource; a collision would make
	// two port-forwards race for the same socket.
	ports := make(map[int]string)
	for _, s := range config.Stacks {
		if other, taken := ports[s.LocalPort]; taken {
			return nil, fmt.Errorf("stacks %q and %q both use local port %d", other, s.Slug, s.LocalPort)
		}
		ports[s.LocalPort] = s.Slug
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Stacks {
		s := &c.Stacks[i]
		if s.RolloutTimeout == 0 {
			s.RolloutTimeout = defaultWait
		}
		if s.Database != nil && s.Database.Timeout == 0 {
			s.Database.Timeout = Duration(300 * time.Second)
		}
		if s.Probe.Timeout == 0 {
			s.Probe.Timeout = Duration(60 * time.Second)
		}
		if s.Probe.Path == "" {
			s.Probe.Path = "/"
		}
	}
}

// DefaultConfig returns the built-in run configuration used when no
// config file is given: the homepage and speedtest stacks.
func DefaultConfig() *Config {
	c := &Config{
		Stacks: []Spec{
			{
				Slug:         "homepage",
				Kind:         KindPage,
				BuildContext: "./homepage",
				ImageTag:     "homepage:test",
				Manifests:    []string{"homepage/homepage-deployment.yaml"},
				Deployment:   "homepage",
				Container:    "homepage",
				Service:      "homepage",
				LocalPort:    30080,
				Probe: ProbeSpec{
					Fragment: "Temperature",
				},
			},
			{
				Slug:         "speedtest",
				Kind:         KindJSONList,
				BuildContext: "./speedtest",
				ImageTag:     "speedtest:test",
				Manifests: []string{
					"speedtest/k8s/postgres-cluster.yaml",
					"speedtest/k8s/service.yaml",
					"speedtest/k8s/deployment.yaml",
				},
				Deployment: "speedtest",
				Container:  "speedtest",
				Service:    "speedtest",
				LocalPort:  30081,
				Secret: &SecretSpec{
					Name: "speedtest-db-app-user",
					Literals: map[string]string{
						"username": "app",
						"password": "password",
					},
				},
				Database: &DatabaseSpec{
					Resource: "cluster/speedtest-db",
				},
				Probe: ProbeSpec{
					Path: "/api/results",
				},
			},
		},
	}
	c.applyDefaults()
	return c
}

// Manifests returns every manifest file across all stacks, in declared
// order. The selector registers these for external-mode cleanup.
func (c *Config) Manifests() []string {
	var all []string
	for _, s := range c.Stacks {
		all = append(all, s.Manifests...)
	}
	return all
}
