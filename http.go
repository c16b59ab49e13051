package nbexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// uuidPattern matches UUID-shaped identifiers: five hex groups
// separated by hyphens.
const uuidPattern = `[0-9a-fA-F]+-[0-9a-fA-F]+-[0-9a-fA-F]+-[0-9a-fA-F]+-[0-9a-fA-F]+`

// HandlerOption configures the HTTP handler.
type HandlerOption func(*handler)

// WithHandlerLogger sets a structured logger for the HTTP surface.
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *handler) { h.logger = l }
}

type handler struct {
	stack   *ExecutionStack
	manager KernelManager
	logger  *slog.Logger
}

// NewHandler returns the REST surface of the execution stack:
//
//	POST /api/kernels/{kernel_id}/execute
//	GET  /api/kernels/{kernel_id}/requests/{request_id}
//	POST /api/kernels/{kernel_id}/input
//
// The handlers validate and delegate; they hold no state themselves.
func NewHandler(stack *ExecutionStack, manager KernelManager, opts ...HandlerOption) http.Handler {
	h := &handler{stack: stack, manager: manager, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	kernel := "{kernel_id:" + uuidPattern + "}"
	request := "{request_id:" + uuidPattern + "}"
	r.Post("/api/kernels/"+kernel+"/execute", h.execute)
	r.Get("/api/kernels/"+kernel+"/requests/"+request, h.poll)
	r.Post("/api/kernels/"+kernel+"/input", h.input)
	return r
}

type executeRequest struct {
	Code     string   `json:"code"`
	Metadata Metadata `json:"metadata"`
}

type inputReply struct {
	Input string `json:"input"`
}

func (h *handler) execute(w http.ResponseWriter, r *http.Request) {
	kernelID := chi.URLParam(r, "kernel_id")

	var body executeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeReason(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !h.manager.Has(kernelID) {
		h.logger.Error("unknown kernel", "kernel_id", kernelID)
		writeReason(w, http.StatusNotFound, fmt.Sprintf("unknown kernel with id: %s", kernelID))
		return
	}

	snippet := body.Code
	if snippet == "" {
		var status int
		var err error
		snippet, status, err = h.snippetFromCell(r.Context(), body.Metadata)
		if err != nil {
			writeReason(w, status, err.Error())
			return
		}
	}

	requestID, err := h.stack.Put(kernelID, snippet, body.Metadata)
	if err != nil {
		h.logger.Error("failed to queue execution request", "kernel_id", kernelID, "error", err)
		writeReason(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/kernels/%s/requests/%s", kernelID, requestID))
	w.WriteHeader(http.StatusAccepted)
}

// snippetFromCell loads the snippet from the collaborative cell the
// metadata addresses, for execute requests that carry no code.
func (h *handler) snippetFromCell(ctx context.Context, meta Metadata) (string, int, error) {
	if !meta.HasCell() {
		return "", http.StatusBadRequest, errors.New("either code or document_id and cell_id must be provided")
	}
	collab := h.stack.Collaboration()
	if collab == nil {
		return "", http.StatusBadRequest, errors.New("collaboration service is not available")
	}
	doc, err := collab.GetDocument(ctx, meta.DocumentID)
	if err != nil || doc == nil {
		return "", http.StatusNotFound, fmt.Errorf("document %s not found", meta.DocumentID)
	}
	for _, cell := range doc.Cells() {
		if cell.ID() != meta.CellID {
			continue
		}
		if cell.Type() != "code" {
			return "", http.StatusBadRequest, &ErrCellNotCode{DocumentID: meta.DocumentID, CellID: meta.CellID}
		}
		return cell.Source(), 0, nil
	}
	return "", http.StatusNotFound, fmt.Errorf("cell %s not found in document %s", meta.CellID, meta.DocumentID)
}

func (h *handler) poll(w http.ResponseWriter, r *http.Request) {
	kernelID := chi.URLParam(r, "kernel_id")
	requestID := chi.URLParam(r, "request_id")

	result, err := h.stack.Get(kernelID, requestID)
	if err != nil {
		writeReason(w, http.StatusNotFound, err.Error())
		return
	}

	switch res := result.(type) {
	case Pending:
		writeJSON(w, http.StatusAccepted, nil)
	case InputRequired:
		w.Header().Set("Location", fmt.Sprintf("/api/kernels/%s/input", kernelID))
		writeJSON(w, http.StatusMultipleChoices, res)
	case Done:
		writeJSON(w, http.StatusOK, res)
	case WorkerError:
		writeJSON(w, http.StatusInternalServerError, res)
	default:
		writeReason(w, http.StatusInternalServerError, "unknown result state")
	}
}

func (h *handler) input(w http.ResponseWriter, r *http.Request) {
	kernelID := chi.URLParam(r, "kernel_id")

	var body inputReply
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeReason(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !h.manager.Has(kernelID) {
		writeReason(w, http.StatusNotFound, fmt.Sprintf("unknown kernel with id: %s", kernelID))
		return
	}
	if err := h.stack.SendInput(r.Context(), kernelID, body.Input); err != nil {
		h.logger.Error("failed to send input", "kernel_id", kernelID, "error", err)
		writeReason(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeReason(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"reason": reason})
}
