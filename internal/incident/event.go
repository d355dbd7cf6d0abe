// Package incident defines the wire and data-model types shared by the
// collector, task server, and trace store: the incident envelope posted
// from collector to server, and the persisted Trace/Step/BugCase records.
package incident

// SchemaVersion is the only accepted value of Event.SchemaVersion. Older or
// unknown versions are rejected by the Task Server API.
const SchemaVersion = "1.0"

// CodeHost identifies which code-host adapter handles a repository.
type CodeHost string

const (
	CodeHostGitHub CodeHost = "github"
	CodeHostGitLab CodeHost = "gitlab"
)

// Repo identifies the target repository and code host for an incident.
type Repo struct {
	RepoURL       string   `json:"repo_url"`
	CodeHost      CodeHost `json:"code_host"`
	DefaultBranch string   `json:"default_branch,omitempty"`
}

// Service identifies the originating service/environment of an incident.
type Service struct {
	Name        string `json:"name,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// Frame is one stack frame extracted from an error excerpt. Frames keep the
// order in which the trace prints them: newest first for JVM traces,
// oldest first for Python tracebacks.
type Frame struct {
	File     string `json:"file"`
	Function string `json:"function"`
}

// ErrorBody carries the extracted evidence for an incident.
type ErrorBody struct {
	ExceptionType string  `json:"exception_type,omitempty"`
	MessageKey    string  `json:"message_key,omitempty"`
	Fingerprint   string  `json:"fingerprint"`
	Frames        []Frame `json:"frames,omitempty"`
	RawExcerpt    string  `json:"raw_excerpt,omitempty"`
}

// Event is the canonical incident envelope posted from collector to server
// at POST /v1/tasks.
type Event struct {
	SchemaVersion string    `json:"schema_version"`
	EventID       string    `json:"event_id"`
	OccurredAt    int64     `json:"occurred_at"`
	Repo          Repo      `json:"repo"`
	Service       Service   `json:"service"`
	Error         ErrorBody `json:"error"`
}

// FieldError names one of the incoming-event validation failures, e.g.
// "fingerprint_required". Its string form is used verbatim as the
// `error` field of a 400 JSON body.
type FieldError string

const (
	ErrSchemaVersionRequired FieldError = "schema_version_required"
	ErrEventIDRequired       FieldError = "event_id_required"
	ErrOccurredAtRequiredInt FieldError = "occurred_at_required_int"
	ErrRepoURLRequired       FieldError = "repo_url_required"
	ErrCodeHostRequired      FieldError = "code_host_required"
	ErrErrorRequired         FieldError = "error_required"
	ErrFingerprintRequired   FieldError = "fingerprint_required"
	ErrFramesMustBeList      FieldError = "frames_must_be_list"
)

func (e FieldError) Error() string { return string(e) }

// MaxFrames bounds the number of accepted stack frames on an incoming event.
const MaxFrames = 50

// Validate checks an incoming event's invariants: schema_version must
// match, event_id/repo_url/code_host/fingerprint non-empty, at least one of
// raw_excerpt/exception_type/message_key non-empty, frames bounded.
func (e *Event) Validate() error {
	if e.SchemaVersion != SchemaVersion {
		return ErrSchemaVersionRequired
	}
	if e.EventID == "" {
		return ErrEventIDRequired
	}
	if e.OccurredAt <= 0 {
		return ErrOccurredAtRequiredInt
	}
	if e.Repo.RepoURL == "" {
		return ErrRepoURLRequired
	}
	if e.Repo.CodeHost != CodeHostGitHub && e.Repo.CodeHost != CodeHostGitLab {
		return ErrCodeHostRequired
	}
	if e.Error.RawExcerpt == "" && e.Error.ExceptionType == "" && e.Error.MessageKey == "" {
		return ErrErrorRequired
	}
	if e.Error.Fingerprint == "" {
		return ErrFingerprintRequired
	}
	if len(e.Error.Frames) > MaxFrames {
		return ErrFramesMustBeList
	}
	return nil
}
