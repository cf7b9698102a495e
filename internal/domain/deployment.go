package domain

import "time"

// DeploymentType distinguishes a forward deploy from a rollback.
type DeploymentType string

const (
	DeployTypeDeploy   DeploymentType = "deploy"
	DeployTypeRollback DeploymentType = "rollback"
)

// DeploymentStatus is the overall status of a user-initiated change attempt.
type DeploymentStatus string

const (
	DeploymentPending    DeploymentStatus = "pending"
	DeploymentQueued     DeploymentStatus = "queued"
	DeploymentInProgress DeploymentStatus = "inprogress"
	DeploymentComplete   DeploymentStatus = "complete"
	DeploymentIncomplete DeploymentStatus = "incomplete"
	DeploymentFailed     DeploymentStatus = "failed"
)

// Deployment is a user-initiated change attempt.
type Deployment struct {
	ID         int64
	PackageID  int64
	User       string
	DepType    DeploymentType
	Status     DeploymentStatus
	DeclaredAt time.Time
	RealizedAt *time.Time
}

// AppDeploymentStatus is the status of a tier's projection of a Deployment.
type AppDeploymentStatus string

const (
	AppDeploymentPending     AppDeploymentStatus = "pending"
	AppDeploymentInProgress  AppDeploymentStatus = "inprogress"
	AppDeploymentComplete    AppDeploymentStatus = "complete"
	AppDeploymentIncomplete  AppDeploymentStatus = "incomplete"
	AppDeploymentValidated   AppDeploymentStatus = "validated"
	AppDeploymentInvalidated AppDeploymentStatus = "invalidated"
)

// AppDeployment (tier-deployment) is the projection of a Deployment onto one
// tier in one environment. Its status is the rollup of its host statuses.
type AppDeployment struct {
	ID            int64
	DeploymentID  int64
	AppID         int64 // Tier.ID
	EnvironmentID int64
	PackageID     int64
	User          string
	Status        AppDeploymentStatus
	CreatedAt     time.Time
	RealizedAt    *time.Time
}

// HostDeploymentStatus is the status of a host's projection of a Deployment.
type HostDeploymentStatus string

const (
	HostDeploymentPending    HostDeploymentStatus = "pending"
	HostDeploymentInProgress HostDeploymentStatus = "inprogress"
	HostDeploymentOK         HostDeploymentStatus = "ok"
	HostDeploymentFailed     HostDeploymentStatus = "failed"
)

// HostDeployment is the projection of a Deployment onto one host, the leaf
// execution unit.
type HostDeployment struct {
	ID           int64
	DeploymentID int64
	HostID       int64
	PackageID    int64
	User         string
	Status       HostDeploymentStatus
	DeployResult string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
