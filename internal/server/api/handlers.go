package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	foundationerrors "github.com/autorepair/autorepair/internal/foundation/errors"
	"github.com/autorepair/autorepair/internal/fingerprint"
	"github.com/autorepair/autorepair/internal/forge"
	"github.com/autorepair/autorepair/internal/incident"
	"github.com/autorepair/autorepair/internal/logfields"
	"github.com/autorepair/autorepair/internal/metrics"
	"github.com/autorepair/autorepair/internal/taskqueue"
	"github.com/autorepair/autorepair/internal/tracestore"
)

// maxBodyBytes bounds request bodies accepted by the ingress handlers.
const maxBodyBytes = 1 << 20 // 1 MiB

// Handlers holds the dependencies shared by every Task Server API route.
type Handlers struct {
	cfg      Config
	queue    taskqueue.Queue
	store    *tracestore.Store
	recorder metrics.Recorder
	logger   *slog.Logger
	adapter  *foundationerrors.HTTPErrorAdapter
}

// checkAPIKey enforces its shared-secret header on routes that
// require it. Returns false (and has already written a 401) when rejected.
func (h *Handlers) checkAPIKey(w http.ResponseWriter, r *http.Request) bool {
	if h.cfg.APIKey == "" {
		return true
	}
	if r.Header.Get("X-API-Key") == h.cfg.APIKey {
		return true
	}
	h.adapter.WriteErrorResponse(w, r, foundationerrors.AuthError("api: invalid api key").Build())
	return false
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

// HandleIngestTask implements POST /v1/tasks: validates
// the incident envelope and enqueues an EVENT job.
func (h *Handlers) HandleIngestTask(w http.ResponseWriter, r *http.Request) {
	if !h.checkAPIKey(w, r) {
		return
	}

	var ev incident.Event
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		h.adapter.WriteErrorResponse(w, r, foundationerrors.ValidationError("api: malformed json body").Build())
		return
	}
	if err := ev.Validate(); err != nil {
		writeJSONPretty(w, r, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	taskID := tracestore.NewTraceID()
	job := incident.Job{TaskID: taskID, Kind: incident.JobEvent, Event: &ev}
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		h.adapter.WriteErrorResponse(w, r, foundationerrors.WrapError(err, foundationerrors.CategoryRuntime, "api: enqueue failed").Build())
		return
	}
	h.recorder.SetQueueDepth(h.queue.Depth())
	h.logger.Info("api: task accepted", logfields.TaskID(taskID), logfields.RepoURL(ev.Repo.RepoURL), logfields.Fingerprint(ev.Error.Fingerprint))
	writeJSONPretty(w, r, http.StatusOK, map[string]string{"task_id": taskID})
}

// prCommentBody is the request body of POST /v1/pr-comments.
type prCommentBody struct {
	RepoURL  string          `json:"repo_url"`
	PRURL    string          `json:"pr_url"`
	PRNumber int             `json:"pr_number"`
	Comment  string          `json:"comment"`
	CodeHost incident.CodeHost `json:"code_host,omitempty"`
}

// HandlePRComment implements POST /v1/pr-comments: enqueues a PR-feedback
// job that resumes from the PR's existing head branch.
func (h *Handlers) HandlePRComment(w http.ResponseWriter, r *http.Request) {
	if !h.checkAPIKey(w, r) {
		return
	}

	var body prCommentBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		h.adapter.WriteErrorResponse(w, r, foundationerrors.ValidationError("api: malformed json body").Build())
		return
	}
	if body.RepoURL == "" || body.PRURL == "" || body.Comment == "" {
		h.adapter.WriteErrorResponse(w, r, foundationerrors.ValidationError("api: repo_url, pr_url, and comment are required").Build())
		return
	}

	taskID := tracestore.NewTraceID()
	job := incident.Job{
		TaskID: taskID,
		Kind:   incident.JobPRComment,
		PRComment: &incident.PRComment{
			RepoURL:  body.RepoURL,
			PRURL:    body.PRURL,
			PRNumber: body.PRNumber,
			Comment:  body.Comment,
			CodeHost: body.CodeHost,
		},
	}
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		h.adapter.WriteErrorResponse(w, r, foundationerrors.WrapError(err, foundationerrors.CategoryRuntime, "api: enqueue failed").Build())
		return
	}
	h.recorder.SetQueueDepth(h.queue.Depth())
	writeJSONPretty(w, r, http.StatusOK, map[string]string{"task_id": taskID})
}

// HandleGitHubWebhook implements POST /v1/webhooks/github: verifies the
// HMAC signature, recognizes the three PR-comment event shapes, applies the
// optional command-prefix gate, and enqueues a PR_COMMENT job. Any event
// type or shape it doesn't recognize is accepted with 204.
func (h *Handlers) HandleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		h.adapter.WriteErrorResponse(w, r, foundationerrors.ValidationError("api: failed to read body").Build())
		return
	}
	if !forge.ValidateWebhook(h.cfg.GitHubWebhookSecret, r.Header.Get("X-Hub-Signature-256"), body) {
		h.adapter.WriteErrorResponse(w, r, foundationerrors.AuthError("api: invalid webhook signature").Build())
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	pc, ok, err := forge.ParseWebhookEvent(eventType, body)
	if err != nil {
		h.adapter.WriteErrorResponse(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	comment, matched := forge.StripCommandPrefix(pc.Comment, h.cfg.PRCommentCommandPrefix)
	if !matched {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	taskID := tracestore.NewTraceID()
	job := incident.Job{
		TaskID: taskID,
		Kind:   incident.JobPRComment,
		PRComment: &incident.PRComment{
			RepoURL:  pc.RepoURL,
			PRURL:    pc.PRURL,
			PRNumber: pc.PRNumber,
			Comment:  comment,
			CodeHost: incident.CodeHostGitHub,
		},
	}
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		h.adapter.WriteErrorResponse(w, r, foundationerrors.WrapError(err, foundationerrors.CategoryRuntime, "api: enqueue failed").Build())
		return
	}
	h.recorder.SetQueueDepth(h.queue.Depth())
	writeJSONPretty(w, r, http.StatusOK, map[string]string{"task_id": taskID})
}

type debugRetrievalBody struct {
	ErrorContent string `json:"error_content"`
	RepoURL      string `json:"repo_url"`
}

// HandleDebugRetrieval implements POST /v1/debug/retrieval: computes the
// same fingerprint features the Task Runner would derive from this text
// and returns the top similar cases, for operators diagnosing why a case
// did or didn't match.
func (h *Handlers) HandleDebugRetrieval(w http.ResponseWriter, r *http.Request) {
	if !h.checkAPIKey(w, r) {
		return
	}
	var body debugRetrievalBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		h.adapter.WriteErrorResponse(w, r, foundationerrors.ValidationError("api: malformed json body").Build())
		return
	}
	if body.ErrorContent == "" {
		h.adapter.WriteErrorResponse(w, r, foundationerrors.ValidationError("api: error_content is required").Build())
		return
	}

	matches, err := h.store.SearchSimilarCases(r.Context(), body.RepoURL, body.ErrorContent, 10)
	if err != nil {
		h.adapter.WriteErrorResponse(w, r, err)
		return
	}
	writeJSONPretty(w, r, http.StatusOK, map[string]any{
		"message_key": fingerprint.MessageKey(body.ErrorContent),
		"matches":     matches,
	})
}

// HandleGetTask implements GET /v1/tasks/{id}: the task_id minted by
// POST /v1/tasks doubles as the trace_id (incident.Job.TaskID), so task
// status is the trace record. The persisted record has no workspace_dir
// column, so none is reported here.
func (h *Handlers) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := h.store.GetTrace(r.Context(), id)
	if err != nil {
		h.writeNotFoundOrError(w, r, err, "task")
		return
	}
	writeJSONPretty(w, r, http.StatusOK, rec)
}

// HandleListTraces implements GET /v1/traces?limit&offset&repo_url&status&format.
func (h *Handlers) HandleListTraces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := parsePagination(q)
	items, total, err := h.store.ListTraces(r.Context(), q.Get("repo_url"), incident.TraceStatus(q.Get("status")), limit, offset)
	if err != nil {
		h.adapter.WriteErrorResponse(w, r, err)
		return
	}
	writeJSONPretty(w, r, http.StatusOK, map[string]any{"items": items, "total": total, "limit": limit, "offset": offset})
}

// HandleGetTrace implements GET /v1/traces/{id}.
func (h *Handlers) HandleGetTrace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := h.store.GetTrace(r.Context(), id)
	if err != nil {
		h.writeNotFoundOrError(w, r, err, "trace")
		return
	}

	resp := map[string]any{"trace": rec}
	if rec.ErrorSignature != "" {
		if matches, err := h.store.SearchSimilarCases(r.Context(), rec.RepoURL, rec.ErrorExcerpt, 1); err == nil && len(matches) > 0 {
			resp["top_match"] = matches[0]
		}
	}
	writeJSONPretty(w, r, http.StatusOK, resp)
}

// HandleListBugCases implements GET /v1/bug-cases?limit&offset&repo_url&q&format.
func (h *Handlers) HandleListBugCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := parsePagination(q)
	items, total, err := h.store.QueryBugCases(r.Context(), q.Get("repo_url"), q.Get("q"), limit, offset)
	if err != nil {
		h.adapter.WriteErrorResponse(w, r, err)
		return
	}
	writeJSONPretty(w, r, http.StatusOK, map[string]any{"items": items, "total": total, "limit": limit, "offset": offset})
}

// HandleGetBugCase implements GET /v1/bug-cases/{id}. The most recent
// revision's PR body (Markdown) is rendered to sanitized HTML for the
// dashboard to embed inline, alongside the raw record.
func (h *Handlers) HandleGetBugCase(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := h.store.GetBugCase(r.Context(), id)
	if err != nil {
		h.writeNotFoundOrError(w, r, err, "bug_case")
		return
	}

	resp := map[string]any{"case": rec}
	if len(rec.Revisions) > 0 && rec.Revisions[0].PRBody != "" {
		if renderedHTML, err := renderMarkdown(rec.Revisions[0].PRBody); err == nil {
			if safeHTML, err := sanitizeSummaryHTML(renderedHTML); err == nil {
				resp["summary_html"] = safeHTML
			}
		}
	}
	writeJSONPretty(w, r, http.StatusOK, resp)
}

func (h *Handlers) writeNotFoundOrError(w http.ResponseWriter, r *http.Request, err error, kind string) {
	if err == sql.ErrNoRows {
		h.adapter.WriteErrorResponse(w, r, foundationerrors.NewError(foundationerrors.CategoryNotFound, kind+"_not_found").Build())
		return
	}
	h.adapter.WriteErrorResponse(w, r, err)
}

func parsePagination(q map[string][]string) (limit, offset int) {
	limit = atoiDefault(firstOf(q["limit"]), 50)
	offset = atoiDefault(firstOf(q["offset"]), 0)
	return limit, offset
}

func firstOf(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// writeJSONPretty writes compact JSON by default, indented when the caller
// passes ?pretty=1/true or ?format=pretty.
func writeJSONPretty(w http.ResponseWriter, r *http.Request, status int, v any) {
	pretty := false
	if r != nil {
		p := r.URL.Query().Get("pretty")
		pretty = p == "1" || p == "true" || r.URL.Query().Get("format") == "pretty"
	}
	if pretty {
		b, err := json.MarshalIndent(v, "", "  ")
		if err == nil {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(status)
			_, _ = w.Write(append(b, '\n'))
			return
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(v); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal_error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
