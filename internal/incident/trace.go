package incident

import "time"

// TraceStatus is the lifecycle status of a Trace.
type TraceStatus string

const (
	TraceRunning TraceStatus = "RUNNING"
	TraceDone    TraceStatus = "DONE"
	TraceFailed  TraceStatus = "FAILED"
)

// StepStatus is the lifecycle status of a Step.
type StepStatus string

const (
	StepRunning StepStatus = "RUNNING"
	StepOK      StepStatus = "OK"
	StepFail    StepStatus = "FAIL"
)

// StepName enumerates the Task Runner state machine's named transitions
//. CANCELLED is not a step in the normal forward chain; it is
// recorded as Trace.FailureStep when cooperative shutdown aborts a trace
// mid-step.
type StepName string

const (
	StepCreateFixBranch StepName = "CREATE_FIX_BRANCH"
	StepAIAgenticEdit    StepName = "AI_AGENTIC_EDIT"
	StepAIProposePatch   StepName = "AI_PROPOSE_PATCH"
	StepApplyPatch       StepName = "APPLY_PATCH"
	StepPreflightCheck   StepName = "PREFLIGHT_CHECK"
	StepAISummary        StepName = "AI_SUMMARY"
	StepGitCommitPush    StepName = "GIT_COMMIT_PUSH"
	StepCreatePR         StepName = "CREATE_PR"
	StepNotify           StepName = "NOTIFY"
	StepCleanup          StepName = "CLEANUP"
	StepCancelled        StepName = "CANCELLED"
)

// MaxErrorExcerptLen bounds Trace.ErrorExcerpt.
const MaxErrorExcerptLen = 2000

// MaxMessageLen bounds Step.Message.
const MaxMessageLen = 2000

// Trace is a server-side execution of one incident.
type Trace struct {
	TraceID        string
	CreatedAt      time.Time
	FinishedAt     *time.Time
	RepoURL        string
	CodeHost       CodeHost
	ErrorSignature string
	ErrorExcerpt   string
	Status         TraceStatus
	FailureStep    string
	FailureMessage string
	PRURL          string
	CommitSHA      string
}

// Step is one state-machine transition within a trace.
type Step struct {
	TraceID    string
	StepName   StepName
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     StepStatus
	Message    string
}

// TriggerType distinguishes how a BugCaseRevision was created.
type TriggerType string

const (
	TriggerError     TriggerType = "ERROR"
	TriggerPRComment TriggerType = "PR_COMMENT"
)

// MaxTriggerTextLen bounds BugCaseRevision.TriggerText.
const MaxTriggerTextLen = 20000

// MaxPRBodyLen bounds BugCaseRevision.PRBody.
const MaxPRBodyLen = 20000

// MaxDiffTextLen bounds BugCaseRevision.DiffText.
const MaxDiffTextLen = 200000

// BugCase is a persistent, per-repo signature bucket. Its
// uniqueness key is (RepoURL, Signature).
type BugCase struct {
	CaseID        string
	RepoURL       string
	CodeHost      CodeHost
	Signature     string
	ExceptionType string
	MessageKey    string
	TopFrames     string // JSON-encoded []Frame
	Status        string
	QualityScore  float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BugCaseRevision is an append-only log entry of one attempted fix for a
// case.
type BugCaseRevision struct {
	RevisionID       int64
	CaseID           string
	TraceID          string
	TriggerType      TriggerType
	TriggerText      string
	PRURL            string
	PRTitle          string
	PRBody           string
	CommitSHA        string
	ChangedFilesJSON string
	DiffText         string
	PreflightOK      bool
	CreatedAt        time.Time
}
