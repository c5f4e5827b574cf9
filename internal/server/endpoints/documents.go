package endpoints

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/scanforge/scanforge/internal/api"
	"github.com/scanforge/scanforge/internal/document"
	"github.com/scanforge/scanforge/internal/merge"
	"github.com/scanforge/scanforge/internal/pipeline"
	"github.com/scanforge/scanforge/internal/svcctx"
)

// ListDocumentsResponse is the response for listing documents.
type ListDocumentsResponse struct {
	Documents []*document.Document `json:"documents"`
}

// ListDocumentsEndpoint handles GET /api/documents.
type ListDocumentsEndpoint struct{}

func (e *ListDocumentsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents", e.handler
}

func (e *ListDocumentsEndpoint) RequiresInit() bool { return true }

func (e *ListDocumentsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	docs := svcctx.DocumentsFrom(r.Context())
	if docs == nil {
		writeError(w, http.StatusServiceUnavailable, "document store not initialized")
		return
	}

	list, err := docs.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ListDocumentsResponse{Documents: list})
}

func (e *ListDocumentsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListDocumentsResponse
			if err := client.Get(cmd.Context(), "/api/documents", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// GetDocumentEndpoint handles GET /api/documents/{id}.
type GetDocumentEndpoint struct{}

func (e *GetDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents/{id}", e.handler
}

func (e *GetDocumentEndpoint) RequiresInit() bool { return true }

func (e *GetDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	docs := svcctx.DocumentsFrom(r.Context())
	if docs == nil {
		writeError(w, http.StatusServiceUnavailable, "document store not initialized")
		return
	}

	doc, err := docs.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, document.ErrDocumentNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (e *GetDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <document-id>",
		Short: "Get a document record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp document.Document
			if err := client.Get(cmd.Context(), "/api/documents/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// DocumentStatusEndpoint handles GET /api/documents/{id}/status.
type DocumentStatusEndpoint struct{}

func (e *DocumentStatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents/{id}/status", e.handler
}

func (e *DocumentStatusEndpoint) RequiresInit() bool { return true }

func (e *DocumentStatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	coord := svcctx.CoordinatorFrom(r.Context())
	if coord == nil {
		writeError(w, http.StatusServiceUnavailable, "coordinator not initialized")
		return
	}

	st, err := coord.Status(r.Context(), r.PathValue("id"))
	if errors.Is(err, document.ErrDocumentNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, st)
}

func (e *DocumentStatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <document-id>",
		Short: "Chunk progress for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp pipeline.DocumentStatus
			if err := client.Get(cmd.Context(), "/api/documents/"+args[0]+"/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// DocumentResultEndpoint handles GET /api/documents/{id}/result.
type DocumentResultEndpoint struct{}

func (e *DocumentResultEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents/{id}/result", e.handler
}

func (e *DocumentResultEndpoint) RequiresInit() bool { return true }

func (e *DocumentResultEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	coord := svcctx.CoordinatorFrom(r.Context())
	if coord == nil {
		writeError(w, http.StatusServiceUnavailable, "coordinator not initialized")
		return
	}

	res, err := coord.Result(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, document.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, pipeline.ErrNotReady):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (e *DocumentResultEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "result <document-id>",
		Short: "Merged OCR result for a finished document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp merge.MergedDocumentResult
			if err := client.Get(cmd.Context(), "/api/documents/"+args[0]+"/result", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
