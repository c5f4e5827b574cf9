package endpoints

import (
	"encoding/json"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/scanforge/scanforge/internal/api"
	"github.com/scanforge/scanforge/internal/ingest"
	"github.com/scanforge/scanforge/internal/svcctx"
)

// IngestRequest is the request body for ingesting a document.
type IngestRequest struct {
	PDFPaths []string `json:"pdf_paths"`
	Title    string   `json:"title,omitempty"`
}

// IngestResponse is the response after a successful ingest.
type IngestResponse struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	PageCount  int    `json:"page_count"`
}

// IngestEndpoint handles POST /api/documents.
type IngestEndpoint struct{}

func (e *IngestEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents", e.handler
}

func (e *IngestEndpoint) RequiresInit() bool { return true }

func (e *IngestEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.PDFPaths) == 0 {
		writeError(w, http.StatusBadRequest, "pdf_paths is required")
		return
	}

	docs := svcctx.DocumentsFrom(r.Context())
	homeDir := svcctx.HomeFrom(r.Context())
	if docs == nil || homeDir == nil {
		writeError(w, http.StatusServiceUnavailable, "server not fully initialized")
		return
	}

	res, err := ingest.Ingest(r.Context(), docs, homeDir, ingest.Request{
		PDFPaths: req.PDFPaths,
		Title:    req.Title,
		Logger:   svcctx.LoggerFrom(r.Context()),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, IngestResponse{
		DocumentID: res.DocumentID,
		Title:      res.Title,
		PageCount:  res.PageCount,
	})
}

func (e *IngestEndpoint) Command(getServerURL func() string) *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "ingest <pdf> [pdf...]",
		Short: "Ingest PDFs as a new document",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp IngestResponse
			err := client.Post(cmd.Context(), "/api/documents", IngestRequest{
				PDFPaths: args,
				Title:    title,
			}, &resp)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "document title (derived from filename if empty)")
	return cmd
}

// ProcessResponse acknowledges a processing submission.
type ProcessResponse struct {
	DocumentID string `json:"document_id"`
	Submitted  bool   `json:"submitted"`
}

// ProcessEndpoint handles POST /api/documents/{id}/process.
type ProcessEndpoint struct{}

func (e *ProcessEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/process", e.handler
}

func (e *ProcessEndpoint) RequiresInit() bool { return true }

func (e *ProcessEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	coord := svcctx.CoordinatorFrom(r.Context())
	if coord == nil {
		writeError(w, http.StatusServiceUnavailable, "coordinator not initialized")
		return
	}

	id := r.PathValue("id")
	if err := coord.Submit(r.Context(), id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, ProcessResponse{DocumentID: id, Submitted: true})
}

func (e *ProcessEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "process <document-id>",
		Short: "Start OCR processing for an ingested document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ProcessResponse
			if err := client.Post(cmd.Context(), "/api/documents/"+args[0]+"/process", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
