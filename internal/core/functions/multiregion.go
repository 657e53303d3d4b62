package functions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultRegionWorkers bounds concurrent per-region deploys, and with them the load on
// the image build service.
const DefaultRegionWorkers = 4

// MultiRegionResult is what a multi-region deploy returns to the caller.
type MultiRegionResult struct {
	DeploymentID   string          `json:"deployment_id"`
	Deployments    []RegionOutcome `json:"deployments"`
	GlobalEndpoint string          `json:"global_endpoint"`
}

// Coordinator fans one function spec out across several regions.
type Coordinator struct {
	mgr          *Manager
	registry     Registry
	workers      int
	globalDomain string
	lg           zerolog.Logger
}

func NewCoordinator(mgr *Manager, reg Registry, workers int, globalDomain string, lg zerolog.Logger) *Coordinator {
	if workers <= 0 {
		workers = DefaultRegionWorkers
	}
	return &Coordinator{
		mgr:          mgr,
		registry:     reg,
		workers:      workers,
		globalDomain: globalDomain,
		lg:           lg.With().Str("component", "multi-region").Logger(),
	}
}

// GlobalEndpoint is the routing name shared by every regional copy of a function.
func (c *Coordinator) GlobalEndpoint(project, name string) string {
	return fmt.Sprintf("https://%s.%s.%s", name, project, c.globalDomain)
}

// DeployAll deploys spec to every region. A failure in one region is reported in that
// region's outcome and never stops or rolls back the others. The outcomes keep the
// order of regions. An error is returned only when the deploy cannot start at all.
func (c *Coordinator) DeployAll(ctx context.Context, project string, spec FunctionSpec, regions []string) (*MultiRegionResult, error) {
	if len(regions) == 0 {
		return nil, validationErrorf("at least one region is required")
	}
	seen := make(map[string]struct{}, len(regions))
	for _, r := range regions {
		if r == "" {
			return nil, validationErrorf("region names must not be empty")
		}
		if _, dup := seen[r]; dup {
			return nil, validationErrorf("region %q listed more than once", r)
		}
		seen[r] = struct{}{}
	}
	if _, err := BuildManifest(project, spec); err != nil {
		return nil, err
	}

	outcomes := make([]RegionOutcome, len(regions))
	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, region := range regions {
		g.Go(func() error {
			outcomes[i] = c.deployRegion(ctx, project, region, spec)
			return nil
		})
	}
	_ = g.Wait()

	d := &Deployment{
		ID:             uuid.NewString(),
		Project:        project,
		FunctionName:   spec.Name,
		Regions:        outcomes,
		GlobalEndpoint: c.GlobalEndpoint(project, spec.Name),
		CreatedAt:      time.Now().UTC(),
	}
	if err := c.registry.CreateDeployment(context.WithoutCancel(ctx), d); err != nil {
		return nil, fmt.Errorf("persist multi-region deployment: %w", err)
	}

	failed := 0
	for _, o := range outcomes {
		if o.Status == OutcomeFailed {
			failed++
		}
	}
	c.lg.Info().
		Str("project", project).
		Str("function", spec.Name).
		Int("regions", len(regions)).
		Int("failed", failed).
		Msg("multi-region deploy finished")

	return &MultiRegionResult{
		DeploymentID:   d.ID,
		Deployments:    outcomes,
		GlobalEndpoint: d.GlobalEndpoint,
	}, nil
}

func (c *Coordinator) deployRegion(ctx context.Context, project, region string, spec FunctionSpec) RegionOutcome {
	fn, err := c.mgr.Deploy(ctx, project, region, spec)
	if err != nil {
		c.lg.Warn().Err(err).Str("region", region).Str("function", spec.Name).Msg("region deploy failed")
		return RegionOutcome{Region: region, Status: OutcomeFailed, Error: err.Error()}
	}
	out := RegionOutcome{Region: region, Status: OutcomeSuccess, FunctionID: fn.ID}
	if fn.Endpoint != nil {
		out.Endpoint = *fn.Endpoint
	}
	return out
}
