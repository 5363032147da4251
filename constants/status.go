package constants

// DocumentStatus is the wire-visible processing status of a document.
type DocumentStatus string

// Stable values (store these exact strings in DB).
const (
	StatusUploaded   DocumentStatus = "uploaded"   // pre-queue state, set by the upload collaborator
	StatusProcessing DocumentStatus = "processing" // a run is active
	StatusCompleted  DocumentStatus = "completed"  // terminal success
	StatusFailed     DocumentStatus = "failed"     // terminal failure, failure_reason is set
)

func (s DocumentStatus) String() string { return string(s) }

// IsTerminal reports whether no run is active for the status.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// JobReason says why a ProcessingJob was enqueued.
type JobReason string

const (
	ReasonInitial   JobReason = "initial"
	ReasonReprocess JobReason = "reprocess"
)

// Stage names used in logs, metrics and failure reasons.
const (
	StageTextRecognition = "text_recognition"
	StageTableExtraction = "table_extraction"
	StageUnderstanding   = "understanding"
	StagePersistence     = "persistence"
)
