package models

import (
	"time"

	"github.com/google/uuid"
)

// IngestRunStatus is the lifecycle state of an ingest run
type IngestRunStatus string

const (
	IngestRunning   IngestRunStatus = "running"
	IngestSucceeded IngestRunStatus = "succeeded"
	IngestFailed    IngestRunStatus = "failed"
)

// IngestRun is the ledger entry of one hydrate invocation
type IngestRun struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	Remote            string          `json:"remote" db:"remote"`
	Ref               string          `json:"ref" db:"ref"`
	Commit            *string         `json:"commit,omitempty" db:"commit"`
	Status            IngestRunStatus `json:"status" db:"status"`
	ChainsImported    int             `json:"chainsImported" db:"chains_imported"`
	ChainsFailed      int             `json:"chainsFailed" db:"chains_failed"`
	EndpointsUpserted int             `json:"endpointsUpserted" db:"endpoints_upserted"`
	ChainsPruned      int64           `json:"chainsPruned" db:"chains_pruned"`
	Error             *string         `json:"error,omitempty" db:"error"`
	StartedAt         time.Time       `json:"startedAt" db:"started_at"`
	FinishedAt        *time.Time      `json:"finishedAt,omitempty" db:"finished_at"`
}
