package ingest

import "time"

type Modality string

const (
	ModalityAudio       Modality = "audio"
	ModalityPDF         Modality = "pdf"
	ModalityVideo       Modality = "video"
	ModalityText        Modality = "text"
	ModalityUnsupported Modality = "unsupported"
)

// aggregationOrder fixes the order modalities contribute to the corpus.
var aggregationOrder = []Modality{ModalityText, ModalityAudio, ModalityPDF, ModalityVideo}

// Metadata keys every aggregated document carries.
const (
	MetaCourse     = "course"
	MetaSubject    = "subject"
	MetaMaterialID = "material_id"
	MetaModality   = "modality"
	MetaFilename   = "filename"
)

// File is one uploaded blob of a batch.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Batch is everything submitted by a single upload request.
type Batch struct {
	Course  string
	Subject string
	Files   []File
}

// ClassifiedFile is a registered upload tagged with its processing path.
type ClassifiedFile struct {
	File       File
	Modality   Modality
	MaterialID uint
	// StagedName is the name the file takes inside the workspace and the
	// value processors report back as Document.Source.
	StagedName string
}

func (f ClassifiedFile) Accepted() bool {
	return f.Modality != ModalityUnsupported
}

// Document is a unit of extracted text ready for the vector index.
type Document struct {
	Text     string         `json:"text"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata"`
}

// Waveform is decoded mono PCM audio.
type Waveform struct {
	Samples    []float32
	SampleRate int
}

const (
	FileStatusAccepted = "accepted"
	FileStatusSkipped  = "skipped"
)

// FileEcho is the per-file entry of the upload response.
type FileEcho struct {
	Filename   string   `json:"filename"`
	Course     string   `json:"course"`
	Subject    string   `json:"subject"`
	MaterialID uint     `json:"material_id"`
	Modality   Modality `json:"modality"`
	Status     string   `json:"status"`
	Reason     string   `json:"reason,omitempty"`
}

// CommittedRecord identifies a registry row written during a request.
type CommittedRecord struct {
	MaterialID uint   `json:"material_id"`
	Filename   string `json:"filename"`
}

type State string

const (
	StateReceived   State = "received"
	StateClassified State = "classified"
	StateProcessed  State = "processed"
	StateAggregated State = "aggregated"
	StateIndexed    State = "indexed"
	StateCleaned    State = "cleaned"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Status is the externally visible progress of one ingestion request.
type Status struct {
	RequestID   string    `json:"request_id"`
	State       State     `json:"state"`
	FailedStage Stage     `json:"failed_stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	Files       int       `json:"files"`
	Documents   int       `json:"documents"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Result is returned by Orchestrator.Ingest. Files is populated even when
// the request fails after registration.
type Result struct {
	RequestID string     `json:"request_id"`
	State     State      `json:"state"`
	Files     []FileEcho `json:"files"`
	Documents int        `json:"documents"`
}
