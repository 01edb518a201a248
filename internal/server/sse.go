package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"teamflow/internal/engine"
	"teamflow/internal/events"

	"github.com/labstack/echo/v4"
)

// StreamExecutionEvents handles GET /executions/{id}/events. The stream ends
// with the run's terminal event or when the client goes away.
func (h *Handlers) StreamExecutionEvents(c echo.Context, id string) error {
	if h.bus == nil {
		return echo.NewHTTPError(http.StatusNotFound, "event streaming is disabled")
	}
	run, err := h.engine.Get(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Execution not found: %s", id))
	}

	ch := h.bus.Subscribe(id)
	defer h.bus.Unsubscribe(ch)

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if err := writeEvent(resp, e); err != nil || e.Type.Terminal() {
				return err
			}
		case <-run.Done():
			return drainAndClose(resp, ch, run.Result())
		}
	}
}

// drainAndClose flushes buffered events and makes sure the stream ends with a
// terminal event even if the subscription started after it was emitted
func drainAndClose(resp *echo.Response, ch <-chan events.Event, res *engine.WorkflowResult) error {
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if err := writeEvent(resp, e); err != nil || e.Type.Terminal() {
				return err
			}
		default:
			return writeEvent(resp, terminalEvent(res))
		}
	}
}

func terminalEvent(res *engine.WorkflowResult) events.Event {
	t := events.ExecutionComplete
	if !res.Success {
		t = events.ExecutionError
	}
	return events.New(t, res.ExecutionID, "", res)
}

func writeEvent(resp *echo.Response, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
		return err
	}
	resp.Flush()
	return nil
}
