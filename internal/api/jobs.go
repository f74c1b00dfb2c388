package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/NamanBalaji/hlsdm/internal/engine"
	"github.com/NamanBalaji/hlsdm/internal/errors"
)

// Engine is the part of the download engine the API drives.
type Engine interface {
	Submit(ref engine.StreamReference, hint engine.QualityHint) (uuid.UUID, error)
	GetStatus(id uuid.UUID) (engine.JobSummary, error)
	List() []engine.JobSummary
	Stats() engine.Stats
	Cancel(id uuid.UUID) error
	Delete(id uuid.UUID) error
	Subscribe(id uuid.UUID) (<-chan engine.Snapshot, func(), error)
}

type submitRequest struct {
	StreamID     string `json:"streamId"`
	ManifestURL  string `json:"manifestUrl"`
	MaxBandwidth int64  `json:"maxBandwidth"`
}

type submitResponse struct {
	ID uuid.UUID `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type JobsController struct {
	Engine Engine
}

// Submit queues a new job: POST /api/jobs
func (ctrl *JobsController) Submit(c *echo.Context) error {
	var req submitRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	if req.MaxBandwidth < 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "maxBandwidth must not be negative"})
	}

	if req.StreamID == "" {
		req.StreamID = "stream"
	}

	id, err := ctrl.Engine.Submit(
		engine.StreamReference{ID: req.StreamID, ManifestURL: req.ManifestURL},
		engine.QualityHint{MaxBandwidth: req.MaxBandwidth},
	)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusAccepted, submitResponse{ID: id})
}

// List returns every job: GET /api/jobs
func (ctrl *JobsController) List(c *echo.Context) error {
	return c.JSON(http.StatusOK, ctrl.Engine.List())
}

// Get returns one job: GET /api/jobs/:id
func (ctrl *JobsController) Get(c *echo.Context) error {
	id, err := jobID(c)
	if err != nil {
		return writeError(c, err)
	}

	summary, err := ctrl.Engine.GetStatus(id)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, summary)
}

func (ctrl *JobsController) Cancel(c *echo.Context) error {
	id, err := jobID(c)
	if err != nil {
		return writeError(c, err)
	}

	if err := ctrl.Engine.Cancel(id); err != nil {
		return writeError(c, err)
	}

	return c.NoContent(http.StatusAccepted)
}

func (ctrl *JobsController) Delete(c *echo.Context) error {
	id, err := jobID(c)
	if err != nil {
		return writeError(c, err)
	}

	if err := ctrl.Engine.Delete(id); err != nil {
		return writeError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (ctrl *JobsController) Stats(c *echo.Context) error {
	return c.JSON(http.StatusOK, ctrl.Engine.Stats())
}

// Events streams the snapshots of a job as server-sent events until the
// job finishes or the client goes away: GET /api/jobs/:id/events
func (ctrl *JobsController) Events(c *echo.Context) error {
	id, err := jobID(c)
	if err != nil {
		return writeError(c, err)
	}

	ch, unsubscribe, err := ctrl.Engine.Subscribe(id)
	if err != nil {
		return writeError(c, err)
	}
	defer unsubscribe()

	w := c.Response()
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-ch:
			if !ok {
				return nil
			}

			event := "progress"
			if snap.Status.IsTerminal() {
				event = "done"
			}

			if err := writeSSEEvent(w, rc, event, snap); err != nil {
				return nil // Client disconnected
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, rc *http.ResponseController, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}

	return rc.Flush()
}

var errInvalidJobID = errors.New("invalid job id")

func jobID(c *echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, errInvalidJobID
	}
	return id, nil
}

// writeError maps engine errors to status codes.
func writeError(c *echo.Context, err error) error {
	code := http.StatusInternalServerError

	switch {
	case errors.Is(err, errInvalidJobID), errors.Is(err, errors.ErrInvalidURL):
		code = http.StatusBadRequest
	case errors.Is(err, errors.ErrJobNotFound):
		code = http.StatusNotFound
	case errors.Is(err, errors.ErrJobNotTerminal):
		code = http.StatusConflict
	case errors.Is(err, engine.ErrEngineNotRunning):
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, errorResponse{Error: err.Error()})
}
