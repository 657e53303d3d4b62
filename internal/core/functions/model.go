package functions

import (
	"time"

	"gorm.io/datatypes"
)

// Status is the lifecycle state of a function record.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// AutoscalingConfig is the scaling policy applied to a function's workload.
type AutoscalingConfig struct {
	MinReplicas       int `json:"min_replicas"`
	MaxReplicas       int `json:"max_replicas"`
	TargetConcurrency int `json:"target_concurrency"`
	TargetRPS         int `json:"target_rps"`
}

// Validate checks the scaling bounds. It never touches the cluster.
func (c AutoscalingConfig) Validate() error {
	switch {
	case c.MinReplicas < 0:
		return validationErrorf("min_replicas must be >= 0, got %d", c.MinReplicas)
	case c.MaxReplicas > MaxReplicasCeiling:
		return validationErrorf("max_replicas must be <= %d, got %d", MaxReplicasCeiling, c.MaxReplicas)
	case c.MinReplicas > c.MaxReplicas:
		return validationErrorf("min_replicas (%d) must not exceed max_replicas (%d)", c.MinReplicas, c.MaxReplicas)
	case c.TargetConcurrency <= 0:
		return validationErrorf("target_concurrency must be > 0, got %d", c.TargetConcurrency)
	case c.TargetRPS <= 0:
		return validationErrorf("target_rps must be > 0, got %d", c.TargetRPS)
	}
	return nil
}

// Function is a deployed function in one region.
//
// (project, name, region) is unique among records whose status is not deleted.
// Endpoint is set only while the status is active.
type Function struct {
	ID             string            `gorm:"primaryKey;size:36" json:"id"`
	Project        string            `gorm:"size:63;not null;uniqueIndex:idx_functions_live,where:status <> 'deleted'" json:"project"`
	Name           string            `gorm:"size:63;not null;uniqueIndex:idx_functions_live,where:status <> 'deleted'" json:"name"`
	Region         string            `gorm:"size:63;not null;uniqueIndex:idx_functions_live,where:status <> 'deleted'" json:"region"`
	Runtime        string            `gorm:"size:32;not null" json:"runtime"`
	Image          string            `json:"image"`
	ObjectName     string            `gorm:"size:63;not null" json:"object_name"`
	MemoryMB       int               `json:"memory_mb"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Concurrency    int               `json:"concurrency"`
	Autoscaling    AutoscalingConfig `gorm:"embedded;embeddedPrefix:autoscaling_" json:"autoscaling"`
	Status         Status            `gorm:"size:16;not null;index" json:"status"`
	Endpoint       *string           `json:"endpoint"`
	CreatedAt      time.Time         `json:"created_at"`
	DeployedAt     *time.Time        `json:"deployed_at,omitempty"`
	DeletedAt      *time.Time        `json:"deleted_at,omitempty"`
}

func (Function) TableName() string { return "functions" }

// Ref returns the key the function is addressed by.
func (f *Function) Ref() Ref {
	return Ref{Project: f.Project, Name: f.Name, Region: f.Region}
}

// Ready reports whether the function can take invocations.
func (f *Function) Ready() bool {
	return f.Status == StatusActive && f.Endpoint != nil && *f.Endpoint != ""
}

func (f *Function) markActive(endpoint string, at time.Time) {
	f.Status = StatusActive
	f.Endpoint = &endpoint
	f.DeployedAt = &at
}

func (f *Function) markDeleted(at time.Time) {
	f.Status = StatusDeleted
	f.Endpoint = nil
	f.DeletedAt = &at
}

// Ref addresses a function. An empty Region means the default region.
type Ref struct {
	Project string `json:"project"`
	Name    string `json:"name"`
	Region  string `json:"region,omitempty"`
}

// Invocation is one successful call of a function. Records are append-only.
type Invocation struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	FunctionID  string    `gorm:"size:36;not null;index:idx_invocations_fn_time,priority:1" json:"function_id"`
	DurationMs  int64     `json:"duration_ms"`
	StatusCode  int       `json:"status_code"`
	ResultBytes int64     `json:"result_bytes"`
	MemoryMB    int       `json:"memory_mb"`
	TraceID     string    `gorm:"size:32" json:"trace_id"`
	Timestamp   time.Time `gorm:"column:invoked_at;not null;index:idx_invocations_fn_time,priority:2" json:"timestamp"`
}

func (Invocation) TableName() string { return "invocations" }

// OutcomeStatus is the result of deploying into a single region.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
)

// RegionOutcome records what happened in one region of a multi-region deploy.
type RegionOutcome struct {
	Region     string        `json:"region"`
	Status     OutcomeStatus `json:"status"`
	FunctionID string        `json:"function_id,omitempty"`
	Endpoint   string        `json:"endpoint,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Deployment is the immutable record of one multi-region deploy call.
type Deployment struct {
	ID             string                            `gorm:"primaryKey;size:36" json:"id"`
	Project        string                            `gorm:"size:63;not null;index:idx_deployments_fn,priority:1" json:"project"`
	FunctionName   string                            `gorm:"size:63;not null;index:idx_deployments_fn,priority:2" json:"function_name"`
	Regions        datatypes.JSONSlice[RegionOutcome] `json:"regions"`
	GlobalEndpoint string                            `json:"global_endpoint"`
	CreatedAt      time.Time                         `json:"created_at"`
}

func (Deployment) TableName() string { return "deployments" }
