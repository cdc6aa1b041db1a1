package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/opconsole/internal/backend"
	"github.com/kalambet/opconsole/internal/console"
	"github.com/kalambet/opconsole/internal/graph"
	"github.com/kalambet/opconsole/internal/model"
	"github.com/kalambet/opconsole/internal/pipeline"
)

const maxRequestBodySize = 1 << 20 // 1MB

type ServerDeps struct {
	Console *console.Console
	Token   string // empty disables bearer auth
	Logger  *slog.Logger
}

type sendRequest struct {
	Prompt  string `json:"prompt"`
	Content string `json:"content"`
}

type runRequest struct {
	ApprovedID string `json:"approved_id"`
	DraftID    string `json:"draft_id"`
}

type addNodeRequest struct {
	Label    string         `json:"label"`
	Position model.Position `json:"position"`
}

type addEdgeRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// NewServer returns the local view server: JSON read models of every view,
// operator actions, and an SSE stream of view changes.
func NewServer(deps ServerDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Get("/graph", handleGraph(deps))
		r.Post("/graph/fit", handleFit(deps))
		r.Post("/graph/nodes/{id}/position", handleDrag(deps))
		r.Post("/graph/edit", handleEnterEdit(deps))
		r.Delete("/graph/edit", handleExitEdit(deps))
		r.Post("/graph/edit/nodes", handleAddNode(deps))
		r.Post("/graph/edit/nodes/{id}/position", handleMoveNode(deps))
		r.Post("/graph/edit/edges", handleAddEdge(deps))
		r.Post("/graph/edit/save", handleSaveEdit(deps))

		r.Get("/timeline", handleTimeline(deps))
		r.Get("/pipeline", handlePipeline(deps))
		r.Get("/runs", handleRuns(deps))
		r.Get("/status", handleStatus(deps))
		r.Get("/notifications", handleNotifications(deps))

		r.Post("/send", handleSend(deps))
		r.Post("/drafts/{id}/approve", handleApprove(deps))
		r.Post("/drafts/{id}/reject", handleReject(deps))
		r.Post("/runs", handleRun(deps))

		r.Get("/events", handleEvents(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleGraph(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Console.Graph())
	}
}

func handleFit(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Console.MarkFitted()
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDrag(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var pos model.Position
		if !decodeBody(w, r, &pos) {
			return
		}
		if err := deps.Console.Drag(chi.URLParam(r, "id"), pos); err != nil {
			consoleError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleEnterEdit(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Console.EnterEdit(); err != nil {
			consoleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deps.Console.Graph())
	}
}

func handleExitEdit(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Console.ExitEdit(); err != nil {
			consoleError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleAddNode(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addNodeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Label == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "label is required")
			return
		}
		var node graph.RenderNode
		err := deps.Console.Edit(func(e *graph.Editor) error {
			node = e.AddNode(req.Label, req.Position)
			return nil
		})
		if err != nil {
			consoleError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, node)
	}
}

func handleMoveNode(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var pos model.Position
		if !decodeBody(w, r, &pos) {
			return
		}
		id := chi.URLParam(r, "id")
		err := deps.Console.Edit(func(e *graph.Editor) error {
			return e.MoveNode(id, pos)
		})
		if err != nil {
			consoleError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleAddEdge(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addEdgeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		var edge graph.RenderEdge
		err := deps.Console.Edit(func(e *graph.Editor) error {
			var err error
			edge, err = e.AddEdge(req.Source, req.Target)
			return err
		})
		if err != nil {
			consoleError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, edge)
	}
}

func handleSaveEdit(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := deps.Console.SaveEdit(r.Context())
		if err != nil {
			consoleError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, d)
	}
}

func handleTimeline(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Console.Timeline())
	}
}

func handlePipeline(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Console.Pipeline())
	}
}

func handleRuns(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Console.Runs())
	}
}

func handleStatus(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"views":     deps.Console.Status(),
			"last_sync": deps.Console.LastSync(),
		})
	}
}

func handleNotifications(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		after, err := parseIntParam(r, "after", 0)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		notes := deps.Console.Notifications(int64(after))
		if notes == nil {
			notes = []console.Notification{}
		}
		writeJSON(w, http.StatusOK, notes)
	}
}

func handleSend(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Prompt == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "prompt is required")
			return
		}
		send := deps.Console.Send
		if req.Content != "" {
			send = func(ctx context.Context, prompt string) (pipeline.Turn, error) {
				return deps.Console.Compose(ctx, prompt, req.Content)
			}
		}
		turn, err := send(r.Context(), req.Prompt)
		if err != nil {
			consoleError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, turn)
	}
}

func handleApprove(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Console.Approve(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			consoleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleReject(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := deps.Console.Reject(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			consoleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func handleRun(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req runRequest
		if !decodeBody(w, r, &req) {
			return
		}
		var (
			run model.Run
			err error
		)
		switch {
		case req.ApprovedID != "":
			run, err = deps.Console.Run(r.Context(), req.ApprovedID)
		case req.DraftID != "":
			run, err = deps.Console.RunDraft(r.Context(), req.DraftID)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "approved_id or draft_id is required")
			return
		}
		if err != nil {
			consoleError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, run)
	}
}

// handleEvents streams view changes as Server-Sent Events. The optional
// repeated "type" query parameter narrows the stream.
func handleEvents(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		var types []console.EventType
		for _, t := range r.URL.Query()["type"] {
			types = append(types, console.EventType(t))
		}
		ch, cancel := deps.Console.Hub().Subscribe(types...)
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case e := <-ch:
				data, err := json.Marshal(e)
				if err != nil {
					deps.Logger.Warn("encoding event failed", "type", e.Type, "error", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
				flusher.Flush()
			}
		}
	}
}

// consoleError maps console and backend errors onto HTTP statuses.
func consoleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, graph.ErrUnknownNode):
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
	case errors.Is(err, graph.ErrEditing), errors.Is(err, graph.ErrNotEditing):
		httpError(w, http.StatusConflict, "conflict_error", "%v", err)
	default:
		var be *backend.Error
		if errors.As(err, &be) {
			httpError(w, http.StatusBadGateway, "backend_"+string(be.Kind)+"_error", "%v", err)
			return
		}
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s parameter: %q", name, s)
	}
	return v, nil
}
