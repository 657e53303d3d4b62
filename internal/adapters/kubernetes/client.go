package kubernetes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"faas-controller/internal/core/functions"

	"github.com/rs/zerolog"
	apiv1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/dynamic"
)

const (
	DefaultNamespace    = "faas-functions"
	DefaultPollAttempts = 30
	DefaultPollInterval = time.Second

	containerName = "function"
)

// ServiceGVR is the Knative Service resource every function is deployed as.
var ServiceGVR = schema.GroupVersionResource{
	Group:    "serving.knative.dev",
	Version:  "v1",
	Resource: "services",
}

// Options configures a Client.
type Options struct {
	Namespace    string
	PollAttempts int
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Namespace == "" {
		o.Namespace = DefaultNamespace
	}
	if o.PollAttempts <= 0 {
		o.PollAttempts = DefaultPollAttempts
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// Client runs functions as scale-to-zero Knative Services in one cluster.
type Client struct {
	dyn  dynamic.Interface
	opts Options
	lg   zerolog.Logger
}

// New wraps an injected dynamic client.
func New(dyn dynamic.Interface, opts Options, lg zerolog.Logger) *Client {
	return &Client{
		dyn:  dyn,
		opts: opts.withDefaults(),
		lg:   lg.With().Str("adapter", "kubernetes").Logger(),
	}
}

func (c *Client) services() dynamic.ResourceInterface {
	return c.dyn.Resource(ServiceGVR).Namespace(c.opts.Namespace)
}

// Create submits the manifest and polls for a ready endpoint. Running out of attempts
// or having ctx cancelled is not an error: the workload stays submitted and "" is returned.
func (c *Client) Create(ctx context.Context, m *functions.Manifest) (string, error) {
	obj, err := c.toService(m)
	if err != nil {
		return "", err
	}

	_, err = c.services().Create(ctx, obj, metav1.CreateOptions{})
	if errors.IsAlreadyExists(err) {
		err = c.replaceSpec(ctx, obj)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create knative service: %w", err)
	}
	c.lg.Info().Str("service", m.Name).Str("namespace", c.opts.Namespace).Msg("submitted knative service")

	return c.waitReady(ctx, m.Name), nil
}

// replaceSpec overwrites the spec of a leftover object with the same name.
func (c *Client) replaceSpec(ctx context.Context, desired *unstructured.Unstructured) error {
	current, err := c.services().Get(ctx, desired.GetName(), metav1.GetOptions{})
	if err != nil {
		return err
	}
	current.Object["spec"] = desired.Object["spec"]
	current.SetLabels(desired.GetLabels())
	_, err = c.services().Update(ctx, current, metav1.UpdateOptions{})
	return err
}

func (c *Client) waitReady(ctx context.Context, name string) string {
	var endpoint string
	attempts := 0
	err := wait.PollUntilContextCancel(ctx, c.opts.PollInterval, true, func(ctx context.Context) (bool, error) {
		attempts++
		ep, err := c.Status(ctx, name)
		if err != nil {
			c.lg.Debug().Err(err).Str("service", name).Int("attempt", attempts).Msg("status check failed")
		}
		if ep != "" {
			endpoint = ep
			return true, nil
		}
		return attempts >= c.opts.PollAttempts, nil
	})
	switch {
	case err != nil:
		c.lg.Warn().Err(err).Str("service", name).Msg("readiness polling interrupted, leaving function pending")
	case endpoint == "":
		c.lg.Warn().Str("service", name).Int("attempts", attempts).Msg("service not ready within poll budget, leaving function pending")
	default:
		c.lg.Info().Str("service", name).Str("endpoint", endpoint).Int("attempts", attempts).Msg("service ready")
	}
	return endpoint
}

// Status returns the service URL once its Ready condition is True.
func (c *Client) Status(ctx context.Context, name string) (string, error) {
	obj, err := c.services().Get(ctx, name, metav1.GetOptions{})
	if errors.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get knative service: %w", err)
	}
	return readyURL(obj), nil
}

func readyURL(obj *unstructured.Unstructured) string {
	conditions, _, _ := unstructured.NestedSlice(obj.Object, "status", "conditions")
	ready := false
	for _, c := range conditions {
		cond, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		if cond["type"] == "Ready" && cond["status"] == string(apiv1.ConditionTrue) {
			ready = true
			break
		}
	}
	if !ready {
		return ""
	}
	url, _, _ := unstructured.NestedString(obj.Object, "status", "url")
	return url
}

// Patch merges the scaling annotations into the revision template. The service object
// itself is kept.
func (c *Client) Patch(ctx context.Context, name string, cfg functions.AutoscalingConfig) error {
	patch := map[string]interface{}{
		"spec": map[string]interface{}{
			"template": map[string]interface{}{
				"metadata": map[string]interface{}{
					"annotations": functions.ScalingAnnotations(cfg),
				},
			},
		},
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal scaling patch: %w", err)
	}
	if _, err := c.services().Patch(ctx, name, types.MergePatchType, data, metav1.PatchOptions{}); err != nil {
		if errors.IsNotFound(err) {
			return fmt.Errorf("%w: knative service %s", functions.ErrNotFound, name)
		}
		return fmt.Errorf("failed to patch knative service: %w", err)
	}
	c.lg.Info().Str("service", name).Msg("patched scaling annotations")
	return nil
}

// Delete requests removal with background propagation and does not wait for teardown.
func (c *Client) Delete(ctx context.Context, name string) error {
	policy := metav1.DeletePropagationBackground
	err := c.services().Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &policy})
	if err != nil && !errors.IsNotFound(err) {
		return err
	}
	c.lg.Info().Str("service", name).Msg("deleted knative service")
	return nil
}

func (c *Client) toService(m *functions.Manifest) (*unstructured.Unstructured, error) {
	podSpec, err := runtime.DefaultUnstructuredConverter.ToUnstructured(podSpecFor(m))
	if err != nil {
		return nil, fmt.Errorf("convert pod spec: %w", err)
	}
	podSpec["containerConcurrency"] = int64(m.ContainerConcurrency)
	podSpec["timeoutSeconds"] = int64(m.TimeoutSeconds)

	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": ServiceGVR.GroupVersion().String(),
		"kind":       "Service",
		"metadata": map[string]interface{}{
			"name":      m.Name,
			"namespace": c.opts.Namespace,
			"labels":    stringMap(m.Labels),
		},
		"spec": map[string]interface{}{
			"template": map[string]interface{}{
				"metadata": map[string]interface{}{
					"labels":      stringMap(m.Labels),
					"annotations": stringMap(m.Annotations()),
				},
				"spec": podSpec,
			},
		},
	}}, nil
}

func podSpecFor(m *functions.Manifest) *apiv1.PodSpec {
	env := make([]apiv1.EnvVar, 0, len(m.Env)+1)
	env = append(env, apiv1.EnvVar{Name: "FUNCTION_TIMEOUT_SECONDS", Value: fmt.Sprint(m.TimeoutSeconds)})
	for _, k := range sortedKeys(m.Env) {
		env = append(env, apiv1.EnvVar{Name: k, Value: m.Env[k]})
	}

	return &apiv1.PodSpec{
		Containers: []apiv1.Container{
			{
				Name:  containerName,
				Image: m.Image,
				Env:   env,
				Ports: []apiv1.ContainerPort{
					{ContainerPort: m.Port},
				},
				Resources: apiv1.ResourceRequirements{
					Requests: apiv1.ResourceList{
						apiv1.ResourceCPU:    resource.MustParse(m.Resources.CPURequest()),
						apiv1.ResourceMemory: resource.MustParse(m.Resources.MemoryRequest()),
					},
					Limits: apiv1.ResourceList{
						apiv1.ResourceCPU:    resource.MustParse(m.Resources.CPULimit()),
						apiv1.ResourceMemory: resource.MustParse(m.Resources.MemoryLimit()),
					},
				},
			},
		},
		Affinity: &apiv1.Affinity{
			PodAntiAffinity: &apiv1.PodAntiAffinity{
				PreferredDuringSchedulingIgnoredDuringExecution: []apiv1.WeightedPodAffinityTerm{
					{
						Weight: m.AntiAffinity.Weight,
						PodAffinityTerm: apiv1.PodAffinityTerm{
							TopologyKey: m.AntiAffinity.TopologyKey,
							LabelSelector: &metav1.LabelSelector{
								MatchLabels: m.AntiAffinity.MatchLabels,
							},
						},
					},
				},
			},
		},
	}
}
