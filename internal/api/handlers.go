package api

import (
	"errors"
	"image"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/mergebot/internal/automation"
	"github.com/nerrad567/mergebot/internal/history"
	"github.com/nerrad567/mergebot/internal/results"
)

// TapRequest is the body of POST /device/tap.
type TapRequest struct {
	X *int `json:"x"`
	Y *int `json:"y"`
}

// handleStats returns the latest loop snapshot.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.loop.Stats())
}

// handleListBattles returns a page of battle history.
//
// Query parameters: outcome, since (RFC3339), limit, offset.
func (s *Server) handleListBattles(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "battle history not configured")
		return
	}

	filter, err := parseBattleFilter(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	page, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing battles", "error", err)
		writeInternalError(w, "failed to list battles")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleBattleSummary returns aggregate battle statistics.
func (s *Server) handleBattleSummary(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "battle history not configured")
		return
	}

	sum, err := s.history.Summary(r.Context())
	if err != nil {
		s.logger.Error("summarising battles", "error", err)
		writeInternalError(w, "failed to summarise battles")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func parseBattleFilter(r *http.Request) (history.Filter, error) {
	q := r.URL.Query()
	var f history.Filter

	if o := q.Get("outcome"); o != "" {
		f.Outcome = results.Outcome(o)
		if !f.Outcome.Valid() {
			return f, errors.New("outcome must be win, lose or surrender")
		}
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return f, errors.New("since must be an RFC3339 timestamp")
		}
		f.Since = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}

// handleControl queues a pause, resume or reset for the loop.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	cmd, err := automation.ParseCommand(chi.URLParam(r, "command"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.loop.Send(cmd); err != nil {
		if errors.Is(err, automation.ErrCommandQueueFull) {
			writeError(w, http.StatusServiceUnavailable, ErrCodeBusy, "command queue full, retry shortly")
			return
		}
		s.logger.Error("sending command", "command", cmd, "error", err)
		writeInternalError(w, "failed to queue command")
		return
	}

	s.logger.Info("control command queued",
		"command", cmd,
		"subject", claimsFromContext(r.Context()).Subject,
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"command": cmd,
		"status":  "queued",
	})
}

// handleTap taps the device at the given screen coordinates.
func (s *Server) handleTap(w http.ResponseWriter, r *http.Request) {
	if s.device == nil {
		writeUnavailable(w, "device not connected")
		return
	}

	var req TapRequest
	if err := sonic.ConfigStd.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.X == nil || req.Y == nil {
		writeBadRequest(w, "x and y are required")
		return
	}
	if *req.X < 0 || *req.Y < 0 {
		writeBadRequest(w, "x and y must be non-negative")
		return
	}

	p := image.Pt(*req.X, *req.Y)
	if err := s.device.Tap(r.Context(), p); err != nil {
		s.logger.Warn("manual tap failed", "x", p.X, "y", p.Y, "error", err)
		writeUnavailable(w, "tap failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"x": p.X, "y": p.Y})
}

// handleScreenshot returns the current device frame as PNG.
func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	if s.device == nil {
		writeUnavailable(w, "device not connected")
		return
	}

	png, err := s.device.CapturePNG(r.Context())
	if err != nil {
		s.logger.Warn("screenshot failed", "error", err)
		writeUnavailable(w, "screenshot failed")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png) //nolint:errcheck // Best-effort write to response
}
