package endpoints

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/novella/internal/api"
	"github.com/jackzampolin/novella/internal/jobs"
	"github.com/jackzampolin/novella/internal/svcctx"
)

// SnapshotSummary describes saved progress without its chunk payloads.
type SnapshotSummary struct {
	JobID         string    `json:"job_id"`
	Mode          string    `json:"mode"`
	DocumentName  string    `json:"document_name"`
	DocumentPath  string    `json:"document_path,omitempty"`
	Status        string    `json:"status"`
	LastCompleted int       `json:"last_completed"`
	Chunks        int       `json:"chunks"`
	Entities      int       `json:"entities"`
	SavedAt       time.Time `json:"saved_at"`
}

// SnapshotsResponse lists saved progress.
type SnapshotsResponse struct {
	Snapshots []SnapshotSummary `json:"snapshots"`
}

// ListSnapshotsEndpoint handles GET /api/snapshots.
type ListSnapshotsEndpoint struct{}

var _ api.Endpoint = (*ListSnapshotsEndpoint)(nil)

func (e *ListSnapshotsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/snapshots", e.handler
}

func (e *ListSnapshotsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List saved progress
//	@Tags			snapshots
//	@Produce		json
//	@Success		200	{object}	SnapshotsResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/snapshots [get]
func (e *ListSnapshotsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}
	snaps, err := jm.Snapshots(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := SnapshotsResponse{Snapshots: make([]SnapshotSummary, 0, len(snaps))}
	for _, s := range snaps {
		resp.Snapshots = append(resp.Snapshots, SnapshotSummary{
			JobID:         s.JobID,
			Mode:          s.Mode,
			DocumentName:  s.DocumentName,
			DocumentPath:  s.DocumentPath,
			Status:        s.Status,
			LastCompleted: s.LastCompleted,
			Chunks:        len(s.Chunks),
			Entities:      len(s.Entities),
			SavedAt:       s.SavedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListSnapshotsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp SnapshotsResponse
			if err := client.Get(cmd.Context(), "/api/snapshots", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// RestoreSnapshotEndpoint handles POST /api/snapshots/{id}/restore.
type RestoreSnapshotEndpoint struct{}

var _ api.Endpoint = (*RestoreSnapshotEndpoint)(nil)

func (e *RestoreSnapshotEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/snapshots/{id}/restore", e.handler
}

func (e *RestoreSnapshotEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Restore saved progress
//	@Description	Reopens the document and loads the job paused; resume it to continue
//	@Tags			snapshots
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	jobs.View
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Router			/api/snapshots/{id}/restore [post]
func (e *RestoreSnapshotEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}
	job, err := jm.Restore(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job.View())
}

func (e *RestoreSnapshotEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>",
		Short: "Load saved progress as a paused job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp jobs.View
			if err := client.Post(cmd.Context(), "/api/snapshots/"+args[0]+"/restore", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// DeleteSnapshotEndpoint handles DELETE /api/snapshots/{id}.
type DeleteSnapshotEndpoint struct{}

var _ api.Endpoint = (*DeleteSnapshotEndpoint)(nil)

func (e *DeleteSnapshotEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/snapshots/{id}", e.handler
}

func (e *DeleteSnapshotEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Delete saved progress
//	@Tags			snapshots
//	@Param			id	path	string	true	"Job ID"
//	@Success		204
//	@Failure		409	{object}	ErrorResponse
//	@Router			/api/snapshots/{id} [delete]
func (e *DeleteSnapshotEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}
	if err := jm.DiscardSnapshot(r.Context(), r.PathValue("id")); err != nil {
		writeJobError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *DeleteSnapshotEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete saved progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/snapshots/"+args[0]); err != nil {
				return err
			}
			return api.Output(map[string]string{"deleted": args[0]})
		},
	}
}
