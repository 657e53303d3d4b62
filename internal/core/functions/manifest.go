package functions

import (
	"fmt"
	"strconv"
)

// Workload labels and scaling annotations. The scaling keys follow the Knative autoscaler.
const (
	LabelProject  = "faas-controller.io/project"
	LabelFunction = "faas-controller.io/function"
	LabelRuntime  = "faas-controller.io/runtime"

	AnnotationMinScale  = "autoscaling.knative.dev/min-scale"
	AnnotationMaxScale  = "autoscaling.knative.dev/max-scale"
	AnnotationTarget    = "autoscaling.knative.dev/target"
	AnnotationMetric    = "autoscaling.knative.dev/metric"
	AnnotationTargetRPS = "faas-controller.io/target-rps"

	// HostnameTopologyKey spreads replicas across nodes.
	HostnameTopologyKey = "kubernetes.io/hostname"

	// FunctionPort is the port every function image listens on.
	FunctionPort = 8080

	antiAffinityWeight = 100
)

// Resources holds the sized CPU and memory of a function container.
type Resources struct {
	CPURequestMillis int64 `json:"cpu_request_millicores"`
	CPULimitMillis   int64 `json:"cpu_limit_millicores"`
	MemoryRequestMB  int64 `json:"memory_request_mb"`
	MemoryLimitMB    int64 `json:"memory_limit_mb"`
}

func (r Resources) CPURequest() string    { return fmt.Sprintf("%dm", r.CPURequestMillis) }
func (r Resources) CPULimit() string      { return fmt.Sprintf("%dm", r.CPULimitMillis) }
func (r Resources) MemoryRequest() string { return fmt.Sprintf("%dMi", r.MemoryRequestMB) }
func (r Resources) MemoryLimit() string   { return fmt.Sprintf("%dMi", r.MemoryLimitMB) }

// Placement is a scheduling preference for the function's replicas.
// It is always soft: the scheduler may ignore it under resource pressure.
type Placement struct {
	Weight      int32             `json:"weight"`
	TopologyKey string            `json:"topology_key"`
	MatchLabels map[string]string `json:"match_labels"`
}

// Manifest is the orchestrator-neutral description of a function workload.
type Manifest struct {
	Name                 string            `json:"name"`
	Project              string            `json:"project"`
	Function             string            `json:"function"`
	Runtime              string            `json:"runtime"`
	Image                string            `json:"image"`
	Port                 int32             `json:"port"`
	TimeoutSeconds       int               `json:"timeout_seconds"`
	ContainerConcurrency int               `json:"container_concurrency"`
	Resources            Resources         `json:"resources"`
	Scaling              AutoscalingConfig `json:"scaling"`
	Labels               map[string]string `json:"labels"`
	Env                  map[string]string `json:"env,omitempty"`
	AntiAffinity         Placement         `json:"anti_affinity"`
}

// Annotations returns the scaling annotations for the workload template.
func (m *Manifest) Annotations() map[string]string {
	return ScalingAnnotations(m.Scaling)
}

// ScalingAnnotations renders an autoscaling config as workload annotations.
func ScalingAnnotations(c AutoscalingConfig) map[string]string {
	return map[string]string{
		AnnotationMinScale:  strconv.Itoa(c.MinReplicas),
		AnnotationMaxScale:  strconv.Itoa(c.MaxReplicas),
		AnnotationTarget:    strconv.Itoa(c.TargetConcurrency),
		AnnotationMetric:    "concurrency",
		AnnotationTargetRPS: strconv.Itoa(c.TargetRPS),
	}
}

// SizeResources derives CPU and memory requests/limits from the requested memory.
// CPU is granted in whole cores: one core of limit per 256 MB and one core of
// request per 512 MB. The memory request is 80% of the limit, rounded up.
func SizeResources(memoryMB int) Resources {
	m := int64(memoryMB)
	return Resources{
		CPULimitMillis:   ceilDiv(m, 256) * 1000,
		CPURequestMillis: ceilDiv(m, 512) * 1000,
		MemoryRequestMB:  ceilDiv(m*4, 5),
		MemoryLimitMB:    m,
	}
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// BuildManifest validates spec and turns it into a workload manifest. It performs no I/O;
// the image reference is filled in once the build collaborator has produced one.
func BuildManifest(project string, spec FunctionSpec) (*Manifest, error) {
	spec = spec.withDefaults()
	if err := validateSpec(project, spec); err != nil {
		return nil, err
	}

	name := ObjectName(project, spec.Name)
	selector := map[string]string{
		LabelProject:  project,
		LabelFunction: spec.Name,
	}
	labels := map[string]string{
		LabelProject:  project,
		LabelFunction: spec.Name,
		LabelRuntime:  spec.Runtime,
	}

	env := make(map[string]string, len(spec.Env))
	for k, v := range spec.Env {
		env[k] = v
	}

	return &Manifest{
		Name:                 name,
		Project:              project,
		Function:             spec.Name,
		Runtime:              spec.Runtime,
		Port:                 FunctionPort,
		TimeoutSeconds:       spec.TimeoutSeconds,
		ContainerConcurrency: spec.Concurrency,
		Resources:            SizeResources(spec.MemoryMB),
		Scaling:              spec.scaling(),
		Labels:               labels,
		Env:                  env,
		AntiAffinity: Placement{
			Weight:      antiAffinityWeight,
			TopologyKey: HostnameTopologyKey,
			MatchLabels: selector,
		},
	}, nil
}
