package functions

import (
	"context"
	"fmt"
	"time"
)

// Orchestrator manages function workloads in one cluster.
type Orchestrator interface {
	// Create submits the manifest and waits, within a bounded poll budget, for a ready
	// endpoint. An empty endpoint with a nil error means the workload was accepted but
	// did not become ready in time.
	Create(ctx context.Context, m *Manifest) (endpoint string, err error)
	// Status reports the ready endpoint of a workload, or "" when it is not ready.
	Status(ctx context.Context, name string) (endpoint string, err error)
	// Patch merges new scaling settings into an existing workload without recreating it.
	Patch(ctx context.Context, name string, cfg AutoscalingConfig) error
	// Delete requests removal of a workload and returns once the request is accepted.
	Delete(ctx context.Context, name string) error
}

// Clusters resolves the orchestrator for each region.
type Clusters interface {
	Orchestrator(region string) (Orchestrator, error)
	DefaultRegion() string
}

// ImageBuilder turns source code for a runtime into a runnable image reference.
type ImageBuilder interface {
	Build(ctx context.Context, runtime string, source []byte) (imageRef string, err error)
}

// Registry is the durable store of functions, deployments and invocations.
type Registry interface {
	// CreateFunction fails with ErrConflict if a non-deleted record with the same
	// project, name and region exists.
	CreateFunction(ctx context.Context, fn *Function) error
	UpdateFunction(ctx context.Context, fn *Function) error
	// GetFunction returns the non-deleted record for the key or ErrNotFound.
	GetFunction(ctx context.Context, project, name, region string) (*Function, error)
	ListFunctions(ctx context.Context, project string) ([]Function, error)
	ListPending(ctx context.Context) ([]Function, error)
	// FunctionHistory returns every record for project and name, deleted ones included.
	FunctionHistory(ctx context.Context, project, name string) ([]Function, error)

	CreateDeployment(ctx context.Context, d *Deployment) error
	ListDeployments(ctx context.Context, project, name string) ([]Deployment, error)

	AppendInvocation(ctx context.Context, inv *Invocation) error
	// ListInvocations returns invocations of the given functions with from <= timestamp < to.
	ListInvocations(ctx context.Context, functionIDs []string, from, to time.Time) ([]Invocation, error)
}

// SingleCluster serves one orchestrator under one region name.
type SingleCluster struct {
	Region string
	Orch   Orchestrator
}

func (s SingleCluster) Orchestrator(region string) (Orchestrator, error) {
	if region != s.Region {
		return nil, fmt.Errorf("%w: unknown region %q", ErrValidation, region)
	}
	return s.Orch, nil
}

func (s SingleCluster) DefaultRegion() string { return s.Region }
