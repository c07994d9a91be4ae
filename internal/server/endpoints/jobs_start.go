package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/novella/internal/analysis"
	"github.com/jackzampolin/novella/internal/api"
	"github.com/jackzampolin/novella/internal/document"
	"github.com/jackzampolin/novella/internal/jobs"
	"github.com/jackzampolin/novella/internal/svcctx"
)

// StartJobRequest starts a job for a document already on the server's disk.
type StartJobRequest struct {
	Path     string `json:"path"`
	Mode     string `json:"mode"`
	Encoding string `json:"encoding,omitempty"`
	Fresh    bool   `json:"fresh,omitempty"`
}

// StartJobEndpoint handles POST /api/jobs.
type StartJobEndpoint struct{}

var _ api.Endpoint = (*StartJobEndpoint)(nil)

func (e *StartJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs", e.handler
}

func (e *StartJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Start an analysis job
//	@Description	Upload a document (multipart field "file") or name a server-side path (JSON)
//	@Tags			jobs
//	@Accept			json,mpfd
//	@Produce		json
//	@Param			file		formData	file	false	"Document to analyze"
//	@Param			mode		formData	string	true	"opening or full"
//	@Param			encoding	formData	string	false	"Declared text encoding (default utf-8)"
//	@Param			modified	formData	int		false	"Original modification time, unix milliseconds"
//	@Param			fresh		formData	bool	false	"Ignore saved progress"
//	@Success		202			{object}	jobs.View
//	@Failure		400			{object}	ErrorResponse
//	@Failure		409			{object}	ErrorResponse
//	@Router			/api/jobs [post]
func (e *StartJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	var req StartJobRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		path, err := saveUpload(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req = StartJobRequest{
			Path:     path,
			Mode:     r.FormValue("mode"),
			Encoding: r.FormValue("encoding"),
			Fresh:    r.FormValue("fresh") == "true",
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path or file is required")
		return
	}
	mode := analysis.Mode(req.Mode)
	if !mode.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("mode must be %q or %q", analysis.ModeOpening, analysis.ModeFull))
		return
	}

	doc, err := document.Open(req.Path, req.Encoding)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := jm.Start(r.Context(), jobs.StartRequest{Document: doc, Path: req.Path, Mode: mode, Fresh: req.Fresh})
	if err != nil {
		writeJobError(w, err)
		return
	}
	svcctx.LoggerFrom(r.Context()).Info("job started", "job_id", job.ID(), "document", doc.Name, "mode", mode)
	writeJSON(w, http.StatusAccepted, job.View())
}

// saveUpload stores the multipart "file" under the uploads directory and
// returns its path. The original modification time is kept when the client
// sends it so the job id matches earlier uploads of the same file.
func saveUpload(r *http.Request) (string, error) {
	const maxMemory = 64 << 20
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return "", fmt.Errorf("failed to parse form: %w", err)
	}
	defer r.MultipartForm.RemoveAll()

	homeDir := svcctx.HomeFrom(r.Context())
	if homeDir == nil {
		return "", errors.New("home directory not initialized")
	}

	src, fh, err := r.FormFile("file")
	if err != nil {
		return "", fmt.Errorf("no file uploaded: %w", err)
	}
	defer src.Close()

	name := filepath.Base(fh.Filename)
	if name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid file name %q", fh.Filename)
	}
	if err := os.MkdirAll(homeDir.UploadsDir(), 0o755); err != nil {
		return "", fmt.Errorf("failed to create uploads directory: %w", err)
	}
	destPath := filepath.Join(homeDir.UploadsDir(), name)
	dst, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("failed to save file: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("failed to save file: %w", err)
	}

	if v := r.FormValue("modified"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid modified time %q", v)
		}
		t := time.UnixMilli(ms)
		if err := os.Chtimes(destPath, t, t); err != nil {
			return "", fmt.Errorf("failed to set modification time: %w", err)
		}
	}
	return destPath, nil
}

func (e *StartJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	var mode, encoding string
	var fresh, remote bool
	cmd := &cobra.Command{
		Use:   "start <file>",
		Short: "Start analyzing a document",
		Long: `Start an analysis job on the server.

By default the file is uploaded. With --remote the path is read on the
server's own filesystem instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var resp jobs.View

			if remote {
				req := StartJobRequest{Path: args[0], Mode: mode, Encoding: encoding, Fresh: fresh}
				if err := client.Post(ctx, "/api/jobs", req, &resp); err != nil {
					return err
				}
				return api.Output(resp)
			}

			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			fields := map[string]string{
				"mode":     mode,
				"encoding": encoding,
				"modified": strconv.FormatInt(info.ModTime().UnixMilli(), 10),
				"fresh":    strconv.FormatBool(fresh),
			}
			if err := client.Upload(ctx, "/api/jobs", args[0], fields, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(analysis.ModeOpening), "Analysis mode: opening or full")
	cmd.Flags().StringVar(&encoding, "encoding", "", "Declared text encoding (default utf-8)")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Ignore saved progress for this document")
	cmd.Flags().BoolVar(&remote, "remote", false, "Treat the path as a file on the server")
	return cmd
}
