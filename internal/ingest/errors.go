package ingest

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidBatch       = errors.New("invalid upload batch")
	ErrProcessorFailure   = errors.New("modality processor failed")
	ErrIndexSync          = errors.New("vector index sync failed")
	ErrUnresolvedSource   = errors.New("document source does not match any uploaded file")
	ErrProcessorsRequired = errors.New("all modality processors are required")
	ErrRegistryRequired   = errors.New("registry is required")
	ErrIndexerRequired    = errors.New("indexer is required")
	ErrWorkspaceRequired  = errors.New("workspace manager is required")
)

// Stage names the pipeline step an IngestError happened in.
type Stage string

const (
	StageWorkspace Stage = "workspace"
	StageRegister  Stage = "register"
	StageStaging   Stage = "staging"
	StageProcess   Stage = "process"
	StageAggregate Stage = "aggregate"
	StageIndex     Stage = "index"
)

// ProcessorFailure describes one modality that could not be extracted.
type ProcessorFailure struct {
	Modality    Modality
	Files       []string
	MaterialIDs []uint
	Err         error
}

func (f *ProcessorFailure) Error() string {
	return fmt.Sprintf("%s processor failed for [%s]: %v", f.Modality, strings.Join(f.Files, ", "), f.Err)
}

func (f *ProcessorFailure) Unwrap() []error {
	return []error{ErrProcessorFailure, f.Err}
}

// IngestError is returned when a request ends in the failed state. Committed
// lists the registry rows that were durably written before the failure;
// they are kept as an audit trail.
type IngestError struct {
	RequestID string
	Stage     Stage
	Modality  Modality
	Files     []string
	Committed []CommittedRecord
	Err       error
}

func (e *IngestError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ingest %s failed at %s", e.RequestID, e.Stage)
	if e.Modality != "" {
		fmt.Fprintf(&b, " (%s)", e.Modality)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *IngestError) Unwrap() error {
	return e.Err
}
