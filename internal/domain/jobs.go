package domain

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// JobStatus is the lifecycle state of a RecomputationJob.
type JobStatus string

const (
	JobQueued              JobStatus = "queued"
	JobProcessing          JobStatus = "processing"
	JobCompleted           JobStatus = "completed"
	JobCompletedWithErrors JobStatus = "completed_with_errors"
	JobFailed              JobStatus = "failed" // awaiting a retry after backoff
	JobDeadLettered        JobStatus = "dead_lettered"
)

// Terminal reports whether no worker will pick the job up again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobCompletedWithErrors, JobDeadLettered:
		return true
	}
	return false
}

// RecomputationJob is a unit of work on the hotel-partitioned queue.
//
// Fields:
//   - HotelID: queue partition; jobs of one hotel are claimed FIFO.
//   - Scope: JSON-encoded MaterializationScope.
//   - Attempts: number of times a worker claimed the job.
//   - Generation: follow-up depth (0 for jobs born from a rule mutation).
//   - AvailableAt: earliest claim time (backoff and visibility).
//   - LeaseOwner/LeaseExpiresAt: worker ownership while processing.
type RecomputationJob struct {
	ID             string         `json:"id"                        gorm:"type:char(36);primaryKey"`
	HotelID        string         `json:"hotel_id"                  gorm:"type:varchar(64);not null;index:idx_jobs_partition,priority:1"`
	Scope          datatypes.JSON `json:"scope"                     gorm:"not null"`
	Status         JobStatus      `json:"status"                    gorm:"type:varchar(24);not null;index:idx_jobs_partition,priority:2"`
	Attempts       int            `json:"attempts"                  gorm:"not null;default:0"`
	MaxAttempts    int            `json:"max_attempts"              gorm:"not null;default:5"`
	Generation     int            `json:"generation"                gorm:"not null;default:0"`
	ParentJobID    *string        `json:"parent_job_id,omitempty"   gorm:"type:char(36);index"`
	EnqueuedAt     time.Time      `json:"enqueued_at"               gorm:"not null;index:idx_jobs_partition,priority:3"`
	AvailableAt    time.Time      `json:"available_at"              gorm:"not null"`
	LeaseOwner     string         `json:"lease_owner,omitempty"     gorm:"type:varchar(64)"`
	LeaseExpiresAt *time.Time     `json:"lease_expires_at,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	Upserted       int            `json:"upserted"                  gorm:"not null;default:0"`
	FailedTriples  int            `json:"failed_triples"            gorm:"not null;default:0"`
	LastError      string         `json:"last_error,omitempty"      gorm:"type:text"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TableName returns the database table name for RecomputationJob.
func (RecomputationJob) TableName() string { return "recomputation_jobs" }

// ScopeValue decodes the job scope.
func (j RecomputationJob) ScopeValue() (MaterializationScope, error) {
	var s MaterializationScope
	err := json.Unmarshal(j.Scope, &s)
	return s, err
}

// EncodeScope serializes a scope for the JSON column.
func EncodeScope(s MaterializationScope) (datatypes.JSON, error) {
	b, err := json.Marshal(s.Normalize())
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// InflightScope is the dedup entry of a job that has not yet snapshotted its
// rules. New scopes contained in a live entry piggyback on its job. Entries
// expire after a TTL so a crashed dispatcher or worker cannot pin them.
type InflightScope struct {
	JobID     string         `gorm:"type:char(36);primaryKey"`
	HotelID   string         `gorm:"type:varchar(64);not null;index:idx_inflight_hotel,priority:1"`
	Scope     datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time      `gorm:"not null;index:idx_inflight_hotel,priority:2"`
}

// TableName implements the GORM tabler interface.
func (InflightScope) TableName() string { return "inflight_scopes" }

// PartitionLease grants one worker exclusive processing of a hotel's queue
// until ExpiresAt. Owners renew while processing; expired leases are taken over.
type PartitionLease struct {
	HotelID   string    `gorm:"type:varchar(64);primaryKey"`
	Owner     string    `gorm:"type:varchar(64);not null"`
	ExpiresAt time.Time `gorm:"not null"`
}

// TableName implements the GORM tabler interface.
func (PartitionLease) TableName() string { return "partition_leases" }
