package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/novella/internal/analysis"
	"github.com/jackzampolin/novella/internal/api"
	"github.com/jackzampolin/novella/internal/jobs"
	"github.com/jackzampolin/novella/internal/svcctx"
)

// Action is a control without arguments.
type Action string

const (
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionCancel Action = "cancel"
)

var actionHelp = map[Action]string{
	ActionPause:  "Pause a job, aborting chunks in flight",
	ActionResume: "Resume a paused job after its last completed chunk",
	ActionCancel: "Cancel a job and discard its saved progress",
}

// ControlJobEndpoint handles POST /api/jobs/{id}/{pause,resume,cancel}.
type ControlJobEndpoint struct {
	Action Action
}

var _ api.Endpoint = (*ControlJobEndpoint)(nil)

func (e *ControlJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/" + string(e.Action), e.handler
}

func (e *ControlJobEndpoint) RequiresInit() bool { return true }

func (e *ControlJobEndpoint) apply(ctx context.Context, job *jobs.Job) error {
	switch e.Action {
	case ActionPause:
		return job.Pause(ctx)
	case ActionResume:
		return job.Resume(ctx)
	case ActionCancel:
		return job.Cancel(ctx)
	}
	return fmt.Errorf("unknown action %q", e.Action)
}

// handler godoc
//
//	@Summary		Control a job
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	jobs.View
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Router			/api/jobs/{id}/pause [post]
//	@Router			/api/jobs/{id}/resume [post]
//	@Router			/api/jobs/{id}/cancel [post]
func (e *ControlJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	job, ok := lookupJob(w, r)
	if !ok {
		return
	}
	if err := e.apply(r.Context(), job); err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job.View())
}

func (e *ControlJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   string(e.Action) + " <id>",
		Short: actionHelp[e.Action],
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp jobs.View
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/"+string(e.Action), nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ClearErrorRequest is the optional body of a clear-error call.
type ClearErrorRequest struct {
	Discard bool `json:"discard"`
}

// ClearErrorEndpoint handles POST /api/jobs/{id}/clear-error.
type ClearErrorEndpoint struct{}

var _ api.Endpoint = (*ClearErrorEndpoint)(nil)

func (e *ClearErrorEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/clear-error", e.handler
}

func (e *ClearErrorEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Clear a job error
//	@Description	Returns a failed job to idle; saved progress is kept unless discard is set
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Job ID"
//	@Param			request	body		ClearErrorRequest	false	"Options"
//	@Success		200		{object}	jobs.View
//	@Router			/api/jobs/{id}/clear-error [post]
func (e *ClearErrorEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ClearErrorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	job, ok := lookupJob(w, r)
	if !ok {
		return
	}
	if err := job.ClearError(r.Context(), req.Discard); err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job.View())
}

func (e *ClearErrorEndpoint) Command(getServerURL func() string) *cobra.Command {
	var discard bool
	cmd := &cobra.Command{
		Use:   "clear-error <id>",
		Short: "Return a failed job to idle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp jobs.View
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/clear-error", ClearErrorRequest{Discard: discard}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&discard, "discard", false, "Also delete saved progress")
	return cmd
}

// CredentialRequest carries an override API key.
type CredentialRequest struct {
	APIKey string `json:"api_key"`
}

// CredentialEndpoint handles POST /api/jobs/{id}/credential.
type CredentialEndpoint struct{}

var _ api.Endpoint = (*CredentialEndpoint)(nil)

func (e *CredentialEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/credential", e.handler
}

func (e *CredentialEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Override the API key of a rate-limited job
//	@Description	The key is probed first; the job resumes only when the probe succeeds
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Job ID"
//	@Param			request	body		CredentialRequest	true	"API key"
//	@Success		200		{object}	jobs.View
//	@Failure		400		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/jobs/{id}/credential [post]
func (e *CredentialEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req CredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "api_key is required")
		return
	}
	job, ok := lookupJob(w, r)
	if !ok {
		return
	}
	if err := job.OverrideCredential(r.Context(), req.APIKey); err != nil {
		writeJobError(w, err)
		return
	}
	svcctx.LoggerFrom(r.Context()).Info("credential override accepted", "job_id", job.ID())
	writeJSON(w, http.StatusOK, job.View())
}

func (e *CredentialEndpoint) Command(getServerURL func() string) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "credential <id>",
		Short: "Resume a rate-limited job with another API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp jobs.View
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/credential", CredentialRequest{APIKey: key}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&key, "api-key", "", "API key to use")
	_ = cmd.MarkFlagRequired("api-key")
	return cmd
}

// writeJobError maps job and manager errors to HTTP statuses.
func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrJobRunning), errors.Is(err, jobs.ErrInvalidTransition), errors.Is(err, jobs.ErrJobClosed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, jobs.ErrNoCredentials):
		writeError(w, http.StatusNotImplemented, err.Error())
	case analysis.KindOf(err) == analysis.KindAuth, analysis.KindOf(err) == analysis.KindRateLimit:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
