package models

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

type RestartPolicy string

const (
	RestartNever     RestartPolicy = "never"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartAlways    RestartPolicy = "always"
)

// BuildSource references the build context directory and the build recipe
// inside it. Two services may share the same source; the runtime is expected
// to build the artifact once and reuse it.
type BuildSource struct {
	Context    string `yaml:"context"`
	Dockerfile string `yaml:"dockerfile,omitempty"`
}

// PortBinding publishes a container port on the host. The YAML form is the
// usual "host:container" string.
type PortBinding struct {
	Host      uint16
	Container uint16
}

func (p *PortBinding) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}

	host, container, ok := strings.Cut(raw, ":")
	if !ok {
		return fmt.Errorf("port %q must be of the form host:container", raw)
	}

	h, err := strconv.ParseUint(strings.TrimSpace(host), 10, 16)
	if err != nil {
		return fmt.Errorf("port %q has invalid host port: %w", raw, err)
	}
	c, err := strconv.ParseUint(strings.TrimSpace(container), 10, 16)
	if err != nil {
		return fmt.Errorf("port %q has invalid container port: %w", raw, err)
	}

	p.Host = uint16(h)
	p.Container = uint16(c)
	return nil
}

func (p PortBinding) String() string {
	return fmt.Sprintf("%d:%d", p.Host, p.Container)
}

// ServiceSpec is the declarative shape of one service. Specs are created by
// Parse and never mutated afterwards; re-configuring a topology means loading
// a new one.
type ServiceSpec struct {
	Name        string            `yaml:"-"`
	Build       BuildSource       `yaml:"build"`
	Restart     RestartPolicy     `yaml:"restart,omitempty"`
	MemLimit    string            `yaml:"mem_limit,omitempty"`
	Ports       []PortBinding     `yaml:"ports,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	DependsOn   []string          `yaml:"depends_on,omitempty"`
	Interactive bool              `yaml:"interactive,omitempty"`
	Command     []string          `yaml:"command,omitempty"`

	memBytes int64
}

// MemoryBytes is the parsed mem_limit ceiling, or 0 when none is set.
func (s *ServiceSpec) MemoryBytes() int64 {
	return s.memBytes
}

// RunToCompletion reports whether the service is expected to exit on its own
// (a test harness or other one-shot command) rather than serve indefinitely.
// A service is one-shot when it overrides the entry command, is not
// allocated an interactive control channel, and is not restarted forever —
// a service under restart: always never completes.
func (s *ServiceSpec) RunToCompletion() bool {
	return len(s.Command) > 0 && !s.Interactive && s.Restart != RestartAlways
}

// Topology is the full set of service specs in declaration order. Declaration
// order is significant: it is the tie-break for services with no ordering
// constraint between them.
type Topology struct {
	Project  string
	Services []ServiceSpec

	byName map[string]*ServiceSpec
}

// Service returns the spec with the given name, or nil.
func (t *Topology) Service(name string) *ServiceSpec {
	return t.byName[name]
}

type topologyDoc struct {
	Project  string    `yaml:"project"`
	Services yaml.Node `yaml:"services"`
}

// Load reads and parses a topology file.
func Load(path string) (*Topology, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology %q: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes a topology document and validates its structural invariants.
// Mapping order of the services block is preserved.
func Parse(b []byte) (*Topology, error) {
	var doc topologyDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}

	t := &Topology{Project: doc.Project}

	if doc.Services.Kind != 0 {
		if doc.Services.Kind != yaml.MappingNode {
			return nil, &ValidationError{Field: "services", Reason: "must be a mapping of service name to spec"}
		}
		// Mapping nodes alternate key, value in document order.
		for i := 0; i+1 < len(doc.Services.Content); i += 2 {
			key := doc.Services.Content[i]
			val := doc.Services.Content[i+1]

			var spec ServiceSpec
			if err := val.Decode(&spec); err != nil {
				return nil, fmt.Errorf("parse service %q: %w", key.Value, err)
			}
			spec.Name = key.Value
			t.Services = append(t.Services, spec)
		}
	}

	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Topology) validate() error {
	if len(t.Services) == 0 {
		return &ValidationError{Field: "services", Reason: "topology declares no services"}
	}

	t.byName = make(map[string]*ServiceSpec, len(t.Services))
	hostPorts := make(map[uint16]string)

	for i := range t.Services {
		s := &t.Services[i]

		if strings.TrimSpace(s.Name) == "" {
			return &ValidationError{Field: "name", Reason: "service name is empty"}
		}
		if _, ok := t.byName[s.Name]; ok {
			return &ValidationError{Service: s.Name, Field: "name", Reason: "duplicate service name"}
		}
		t.byName[s.Name] = s

		if strings.TrimSpace(s.Build.Context) == "" {
			return &ValidationError{Service: s.Name, Field: "build.context", Reason: "build context is required"}
		}

		switch s.Restart {
		case "":
			s.Restart = RestartNever
		case RestartNever, RestartOnFailure, RestartAlways:
		default:
			return &ValidationError{
				Service: s.Name,
				Field:   "restart",
				Reason:  fmt.Sprintf("unknown restart policy %q", s.Restart),
			}
		}

		if s.MemLimit != "" {
			n, err := units.RAMInBytes(s.MemLimit)
			if err != nil {
				return &ValidationError{
					Service: s.Name,
					Field:   "mem_limit",
					Reason:  fmt.Sprintf("invalid memory limit %q: %v", s.MemLimit, err),
				}
			}
			if n <= 0 {
				return &ValidationError{
					Service: s.Name,
					Field:   "mem_limit",
					Reason:  fmt.Sprintf("memory limit %q must be positive", s.MemLimit),
				}
			}
			s.memBytes = n
		}

		for _, p := range s.Ports {
			if p.Host == 0 || p.Container == 0 {
				return &ValidationError{
					Service: s.Name,
					Field:   "ports",
					Reason:  fmt.Sprintf("port %q must use non-zero ports", p),
				}
			}
			if prev, taken := hostPorts[p.Host]; taken {
				return &ValidationError{
					Service: s.Name,
					Field:   "ports",
					Reason:  fmt.Sprintf("host port %d already claimed by service %q", p.Host, prev),
				}
			}
			hostPorts[p.Host] = s.Name
		}
	}

	return nil
}
