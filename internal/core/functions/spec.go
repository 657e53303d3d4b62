package functions

import (
	"regexp"
	"sort"
)

const (
	MinMemoryMB = 128
	MaxMemoryMB = 3008

	MinTimeoutSeconds = 30
	MaxTimeoutSeconds = 900

	MinConcurrency = 1
	MaxConcurrency = 1000

	// MaxReplicasCeiling is the scale ceiling used when no autoscaling config is given.
	MaxReplicasCeiling = 1000

	DefaultMemoryMB       = 256
	DefaultTimeoutSeconds = 30
	DefaultConcurrency    = 100
	DefaultTargetRPS      = 100
)

// RuntimeInfo describes how a runtime identifier is packaged.
type RuntimeInfo struct {
	// HandlerFile is the file name the uploaded source is stored under inside the image.
	HandlerFile string
}

var runtimes = map[string]RuntimeInfo{
	"node18":     {HandlerFile: "handler.js"},
	"node20":     {HandlerFile: "handler.js"},
	"python3.9":  {HandlerFile: "handler.py"},
	"python3.10": {HandlerFile: "handler.py"},
	"python3.11": {HandlerFile: "handler.py"},
	"python3.12": {HandlerFile: "handler.py"},
	"go1.21":     {HandlerFile: "main.go"},
	"go1.22":     {HandlerFile: "main.go"},
	"java17":     {HandlerFile: "Handler.java"},
	"ruby3.2":    {HandlerFile: "handler.rb"},
}

// LookupRuntime returns the packaging details for a supported runtime.
func LookupRuntime(id string) (RuntimeInfo, bool) {
	info, ok := runtimes[id]
	return info, ok
}

// SupportedRuntimes lists the runtime identifiers in sorted order.
func SupportedRuntimes() []string {
	ids := make([]string, 0, len(runtimes))
	for id := range runtimes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var dnsLabel = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// FunctionSpec is the user-supplied definition of a function.
type FunctionSpec struct {
	Name           string             `json:"name"`
	Runtime        string             `json:"runtime"`
	MemoryMB       int                `json:"memory_mb"`
	TimeoutSeconds int                `json:"timeout_seconds"`
	Concurrency    int                `json:"concurrency"`
	Autoscaling    *AutoscalingConfig `json:"autoscaling,omitempty"`
	Env            map[string]string  `json:"env,omitempty"`
	Source         []byte             `json:"-"`
}

// withDefaults fills unset sizing fields. Explicit values are left for validation.
func (s FunctionSpec) withDefaults() FunctionSpec {
	if s.MemoryMB == 0 {
		s.MemoryMB = DefaultMemoryMB
	}
	if s.TimeoutSeconds == 0 {
		s.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if s.Concurrency == 0 {
		s.Concurrency = DefaultConcurrency
	}
	return s
}

// scaling returns the effective autoscaling config for the spec.
func (s FunctionSpec) scaling() AutoscalingConfig {
	if s.Autoscaling != nil {
		return *s.Autoscaling
	}
	return AutoscalingConfig{
		MinReplicas:       0,
		MaxReplicas:       MaxReplicasCeiling,
		TargetConcurrency: s.Concurrency,
		TargetRPS:         DefaultTargetRPS,
	}
}

func validateSpec(project string, s FunctionSpec) error {
	if !dnsLabel.MatchString(project) {
		return validationErrorf("project %q must be a lowercase DNS label", project)
	}
	if !dnsLabel.MatchString(s.Name) {
		return validationErrorf("name %q must be a lowercase DNS label", s.Name)
	}
	if len(ObjectName(project, s.Name)) > 63 {
		return validationErrorf("project and name together must not exceed 62 characters")
	}
	if _, ok := runtimes[s.Runtime]; !ok {
		return validationErrorf("unsupported runtime %q (supported: %v)", s.Runtime, SupportedRuntimes())
	}
	if s.MemoryMB < MinMemoryMB || s.MemoryMB > MaxMemoryMB {
		return validationErrorf("memory_mb must be within [%d, %d], got %d", MinMemoryMB, MaxMemoryMB, s.MemoryMB)
	}
	if s.TimeoutSeconds < MinTimeoutSeconds || s.TimeoutSeconds > MaxTimeoutSeconds {
		return validationErrorf("timeout_seconds must be within [%d, %d], got %d", MinTimeoutSeconds, MaxTimeoutSeconds, s.TimeoutSeconds)
	}
	if s.Concurrency < MinConcurrency || s.Concurrency > MaxConcurrency {
		return validationErrorf("concurrency must be within [%d, %d], got %d", MinConcurrency, MaxConcurrency, s.Concurrency)
	}
	if s.Autoscaling != nil {
		if err := s.Autoscaling.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ObjectName is the name of the workload object backing a function in its cluster.
func ObjectName(project, name string) string {
	return project + "-" + name
}
