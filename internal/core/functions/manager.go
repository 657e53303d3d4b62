package functions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"faas-controller/internal/telemetry"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"k8s.io/apimachinery/pkg/util/wait"
)

type Manager struct {
	registry Registry
	clusters Clusters
	builder  ImageBuilder
	metrics  *telemetry.Metrics
	locks    *keyLocks
	now      func() time.Time
	lg       zerolog.Logger
}

func NewManager(reg Registry, clusters Clusters, builder ImageBuilder, metrics *telemetry.Metrics, lg zerolog.Logger) *Manager {
	return &Manager{
		registry: reg,
		clusters: clusters,
		builder:  builder,
		metrics:  metrics,
		locks:    newKeyLocks(),
		now:      func() time.Time { return time.Now().UTC() },
		lg:       lg.With().Str("component", "function-manager").Logger(),
	}
}

// DefaultRegion is the region used when a request does not name one.
func (m *Manager) DefaultRegion() string {
	return m.clusters.DefaultRegion()
}

func (m *Manager) resolve(ref Ref) Ref {
	if ref.Region == "" {
		ref.Region = m.clusters.DefaultRegion()
	}
	return ref
}

// Deploy runs the single-region pipeline: manifest, image build, cluster submission,
// registry write. Validation happens before any I/O. A workload that does not become
// ready within the poll budget is persisted as pending with no endpoint.
func (m *Manager) Deploy(ctx context.Context, project, region string, spec FunctionSpec) (*Function, error) {
	manifest, err := BuildManifest(project, spec)
	if err != nil {
		return nil, err
	}
	ref := m.resolve(Ref{Project: project, Name: spec.Name, Region: region})
	lg := m.lg.With().
		Str("project", ref.Project).
		Str("function", ref.Name).
		Str("region", ref.Region).
		Logger()

	orch, err := m.clusters.Orchestrator(ref.Region)
	if err != nil {
		return nil, err
	}

	release, err := m.locks.acquire(ctx, lockKey(ref))
	if err != nil {
		return nil, fmt.Errorf("acquire deploy lease: %w", err)
	}
	defer release()

	if _, err := m.registry.GetFunction(ctx, ref.Project, ref.Name, ref.Region); err == nil {
		return nil, fmt.Errorf("%w: %s/%s in region %s", ErrConflict, ref.Project, ref.Name, ref.Region)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup function: %w", err)
	}

	image, err := m.builder.Build(ctx, manifest.Runtime, spec.Source)
	if err != nil {
		m.metrics.DeployFinished(ref.Region, "build_failed")
		lg.Error().Err(err).Msg("image build failed, aborting deploy")
		if errors.Is(err, ErrBuild) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrBuild, err)
	}
	manifest.Image = image

	endpoint, err := orch.Create(ctx, manifest)
	if err != nil {
		m.metrics.DeployFinished(ref.Region, "submit_failed")
		return nil, fmt.Errorf("submit manifest: %w", err)
	}

	now := m.now()
	fn := &Function{
		ID:             uuid.NewString(),
		Project:        ref.Project,
		Name:           ref.Name,
		Region:         ref.Region,
		Runtime:        manifest.Runtime,
		Image:          image,
		ObjectName:     manifest.Name,
		MemoryMB:       int(manifest.Resources.MemoryLimitMB),
		TimeoutSeconds: manifest.TimeoutSeconds,
		Concurrency:    manifest.ContainerConcurrency,
		Autoscaling:    manifest.Scaling,
		Status:         StatusPending,
		CreatedAt:      now,
	}
	if endpoint != "" {
		fn.markActive(endpoint, now)
	}

	// The workload exists now, so the record is written even if the caller has gone away.
	if err := m.registry.CreateFunction(context.WithoutCancel(ctx), fn); err != nil {
		m.metrics.DeployFinished(ref.Region, "persist_failed")
		return nil, fmt.Errorf("persist function: %w", err)
	}

	m.metrics.DeployFinished(ref.Region, string(fn.Status))
	lg.Info().
		Str("function_id", fn.ID).
		Str("status", string(fn.Status)).
		Str("image", image).
		Msg("function deployed")
	return fn, nil
}

// Get returns the live record for ref.
func (m *Manager) Get(ctx context.Context, ref Ref) (*Function, error) {
	ref = m.resolve(ref)
	return m.registry.GetFunction(ctx, ref.Project, ref.Name, ref.Region)
}

func (m *Manager) List(ctx context.Context, project string) ([]Function, error) {
	return m.registry.ListFunctions(ctx, project)
}

func (m *Manager) Deployments(ctx context.Context, project, name string) ([]Deployment, error) {
	return m.registry.ListDeployments(ctx, project, name)
}

// Configure validates cfg, patches the workload's scaling settings in place and
// stores cfg on the record.
func (m *Manager) Configure(ctx context.Context, ref Ref, cfg AutoscalingConfig) (*Function, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ref = m.resolve(ref)

	release, err := m.locks.acquire(ctx, lockKey(ref))
	if err != nil {
		return nil, fmt.Errorf("acquire deploy lease: %w", err)
	}
	defer release()

	fn, err := m.registry.GetFunction(ctx, ref.Project, ref.Name, ref.Region)
	if err != nil {
		return nil, err
	}
	orch, err := m.clusters.Orchestrator(fn.Region)
	if err != nil {
		return nil, err
	}
	if err := orch.Patch(ctx, fn.ObjectName, cfg); err != nil {
		return nil, fmt.Errorf("patch scaling: %w", err)
	}

	fn.Autoscaling = cfg
	if err := m.registry.UpdateFunction(context.WithoutCancel(ctx), fn); err != nil {
		return nil, fmt.Errorf("persist autoscaling config: %w", err)
	}

	m.lg.Info().
		Str("function_id", fn.ID).
		Int("min", cfg.MinReplicas).
		Int("max", cfg.MaxReplicas).
		Int("target_concurrency", cfg.TargetConcurrency).
		Int("target_rps", cfg.TargetRPS).
		Msg("autoscaling reconfigured")
	return fn, nil
}

// Delete removes the workload and soft-deletes the record. Invocation history is kept.
func (m *Manager) Delete(ctx context.Context, ref Ref) error {
	ref = m.resolve(ref)

	release, err := m.locks.acquire(ctx, lockKey(ref))
	if err != nil {
		return fmt.Errorf("acquire deploy lease: %w", err)
	}
	defer release()

	fn, err := m.registry.GetFunction(ctx, ref.Project, ref.Name, ref.Region)
	if err != nil {
		return err
	}
	orch, err := m.clusters.Orchestrator(fn.Region)
	if err != nil {
		return err
	}
	if err := orch.Delete(ctx, fn.ObjectName); err != nil {
		return fmt.Errorf("delete workload: %w", err)
	}

	fn.markDeleted(m.now())
	if err := m.registry.UpdateFunction(context.WithoutCancel(ctx), fn); err != nil {
		return fmt.Errorf("failed to mark function deleted: %w", err)
	}

	m.lg.Info().Str("function_id", fn.ID).Msg("function removed successfully")
	return nil
}

// Reconcile asks each region once for the status of every pending function and promotes
// the ones that have become ready. It returns how many were promoted.
func (m *Manager) Reconcile(ctx context.Context) (int, error) {
	pending, err := m.registry.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("could not query pending functions: %w", err)
	}

	promoted := 0
	for _, fn := range pending {
		ok, err := m.promote(ctx, fn)
		if err != nil {
			m.lg.Warn().Err(err).Str("function_id", fn.ID).Msg("failed to reconcile function")
			continue
		}
		if ok {
			promoted++
		}
	}
	if promoted > 0 {
		m.metrics.Promoted(promoted)
		m.lg.Info().Int("promoted", promoted).Msg("reconciled pending functions")
	}
	return promoted, nil
}

func (m *Manager) promote(ctx context.Context, candidate Function) (bool, error) {
	orch, err := m.clusters.Orchestrator(candidate.Region)
	if err != nil {
		return false, err
	}
	endpoint, err := orch.Status(ctx, candidate.ObjectName)
	if err != nil || endpoint == "" {
		return false, err
	}

	release, err := m.locks.acquire(ctx, lockKey(candidate.Ref()))
	if err != nil {
		return false, err
	}
	defer release()

	fn, err := m.registry.GetFunction(ctx, candidate.Project, candidate.Name, candidate.Region)
	if err != nil {
		return false, err
	}
	if fn.ID != candidate.ID || fn.Status != StatusPending {
		return false, nil
	}
	fn.markActive(endpoint, m.now())
	if err := m.registry.UpdateFunction(ctx, fn); err != nil {
		return false, err
	}
	m.lg.Info().Str("function_id", fn.ID).Str("endpoint", endpoint).Msg("pending function promoted")
	return true, nil
}

// RunReconciler calls Reconcile every interval until ctx is done.
func (m *Manager) RunReconciler(ctx context.Context, interval time.Duration) {
	wait.UntilWithContext(ctx, func(ctx context.Context) {
		if _, err := m.Reconcile(ctx); err != nil {
			m.lg.Error().Err(err).Msg("error during reconcile")
		}
	}, interval)
}
