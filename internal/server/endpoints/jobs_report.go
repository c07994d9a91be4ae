package endpoints

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/novella/internal/analysis"
	"github.com/jackzampolin/novella/internal/api"
	"github.com/jackzampolin/novella/internal/knowledge"
)

// Report is one synthesized report of a job.
type Report struct {
	Type    analysis.ReportType `json:"type"`
	Content string              `json:"content"`
	Path    string              `json:"path,omitempty"`
}

// ReportResponse lists a job's reports.
type ReportResponse struct {
	JobID   string   `json:"job_id"`
	Reports []Report `json:"reports"`
}

// ReportEndpoint handles GET /api/jobs/{id}/report.
type ReportEndpoint struct{}

var _ api.Endpoint = (*ReportEndpoint)(nil)

func (e *ReportEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}/report", e.handler
}

func (e *ReportEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get job reports
//	@Description	Returns the synthesized reports of a completed job
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	ReportResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Router			/api/jobs/{id}/report [get]
func (e *ReportEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	job, ok := lookupJob(w, r)
	if !ok {
		return
	}
	view := job.View()
	if len(view.Reports) == 0 {
		writeError(w, http.StatusConflict, fmt.Sprintf("job %s has no reports (status %s)", view.ID, view.Status))
		return
	}
	resp := ReportResponse{JobID: view.ID}
	for typ, content := range view.Reports {
		resp.Reports = append(resp.Reports, Report{Type: typ, Content: content, Path: view.ReportPaths[typ]})
	}
	sort.Slice(resp.Reports, func(i, j int) bool { return resp.Reports[i].Type < resp.Reports[j].Type })
	writeJSON(w, http.StatusOK, resp)
}

func (e *ReportEndpoint) Command(getServerURL func() string) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "report <id>",
		Short: "Show the reports of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ReportResponse
			if err := client.Get(cmd.Context(), "/api/jobs/"+args[0]+"/report", &resp); err != nil {
				return err
			}
			if !raw {
				return api.Output(resp)
			}
			for _, rep := range resp.Reports {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n\n%s\n\n", rep.Type, rep.Content)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print report text instead of structured output")
	return cmd
}

// EntitiesResponse lists the entities a job has accumulated.
type EntitiesResponse struct {
	JobID    string             `json:"job_id"`
	Entities []knowledge.Entity `json:"entities"`
}

// EntitiesEndpoint handles GET /api/jobs/{id}/entities.
type EntitiesEndpoint struct{}

var _ api.Endpoint = (*EntitiesEndpoint)(nil)

func (e *EntitiesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}/entities", e.handler
}

func (e *EntitiesEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get job entities
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	EntitiesResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/jobs/{id}/entities [get]
func (e *EntitiesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	job, ok := lookupJob(w, r)
	if !ok {
		return
	}
	view := job.View()
	entities := view.Entities
	if entities == nil {
		entities = []knowledge.Entity{}
	}
	writeJSON(w, http.StatusOK, EntitiesResponse{JobID: view.ID, Entities: entities})
}

func (e *EntitiesEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "entities <id>",
		Short: "List characters, places and terms found so far",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp EntitiesResponse
			if err := client.Get(cmd.Context(), "/api/jobs/"+args[0]+"/entities", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
