package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/richowen/battery-controller/internal/override"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Printf("api: encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r, s.deps.RequestTimeout)
	defer cancel()

	healthy := s.deps.Health == nil || s.deps.Health.Healthy(ctx)
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]any{
		"status":    healthyString(healthy),
		"uptime_s":  time.Since(s.startTime).Seconds(),
		"timestamp": time.Now().UTC(),
	})
}

func healthyString(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}

func (s *Server) refreshPricesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r, s.deps.RequestTimeout)
	defer cancel()

	report, stats, err := s.deps.Tariff.RefreshPrices(ctx)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"report": report, "stats": stats})
}

func (s *Server) currentPricesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r, s.deps.RequestTimeout)
	defer cancel()

	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = parsed
	}

	now := time.Now().UTC()
	points, err := s.deps.Tariff.Window(ctx, now, now.Add(time.Duration(hours)*time.Hour))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"points": points})
}

func (s *Server) recommendationNowHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r, s.deps.RequestTimeout)
	defer cancel()

	rec, err := s.deps.Recommendation.Now(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) stateCurrentHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r, s.deps.RequestTimeout)
	defer cancel()

	state, err := s.deps.State.Current(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) scheduleUpdateHandler(w http.ResponseWriter, r *http.Request) {
	var update ScheduleUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !override.IsValidDevice(override.DeviceID(update.DeviceID)) {
		s.writeError(w, http.StatusBadRequest, override.ErrUnknownDevice.Error())
		return
	}
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now().UTC()
	}

	ctx, cancel := reqCtx(r, s.deps.RequestTimeout)
	defer cancel()

	if err := s.deps.Schedule.Update(ctx, update); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) scheduleStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r, s.deps.RequestTimeout)
	defer cancel()

	status, err := s.deps.Schedule.Status(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) scheduleHistoryHandler(w http.ResponseWriter, r *http.Request) {
	deviceID := override.DeviceID(r.URL.Query().Get("device_id"))
	if deviceID == "" {
		s.writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	if !override.IsValidDevice(deviceID) {
		s.writeError(w, http.StatusBadRequest, override.ErrUnknownDevice.Error())
		return
	}

	start, end, err := parseWindow(r, 7*24*time.Hour)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, convErr := strconv.Atoi(raw)
		if convErr != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	ctx, cancel := reqCtx(r, s.deps.RequestTimeout)
	defer cancel()

	history, err := s.deps.Schedule.History(ctx, deviceID, start, end, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) manualOverrideSetHandler(w http.ResponseWriter, r *http.Request) {
	var set ManualOverrideSet
	if err := json.NewDecoder(r.Body).Decode(&set); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if set.DeviceID == "" {
		s.writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	if !override.IsValidDevice(override.DeviceID(set.DeviceID)) {
		s.writeError(w, http.StatusBadRequest, override.ErrUnknownDevice.Error())
		return
	}

	ctx, cancel := reqCtx(r, s.deps.RequestTimeout)
	defer cancel()

	row, err := s.deps.ManualOverride.Set(ctx, set)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, row)
}

func (s *Server) manualOverrideStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r, s.deps.RequestTimeout)
	defer cancel()

	status, err := s.deps.ManualOverride.Status(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) manualOverrideClearHandler(w http.ResponseWriter, r *http.Request) {
	deviceID := override.DeviceID(r.URL.Query().Get("device_id"))
	if deviceID == "" {
		s.writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	if !override.IsValidDevice(deviceID) {
		s.writeError(w, http.StatusBadRequest, override.ErrUnknownDevice.Error())
		return
	}
	clearedBy := clearedByOrDefault(r.URL.Query().Get("cleared_by"))

	ctx, cancel := reqCtx(r, s.deps.RequestTimeout)
	defer cancel()

	n, err := s.deps.ManualOverride.Clear(ctx, deviceID, clearedBy)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) manualOverrideClearAllHandler(w http.ResponseWriter, r *http.Request) {
	clearedBy := clearedByOrDefault(r.URL.Query().Get("cleared_by"))

	ctx, cancel := reqCtx(r, s.deps.RequestTimeout)
	defer cancel()

	n, err := s.deps.ManualOverride.ClearAll(ctx, clearedBy)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func clearedByOrDefault(v string) string {
	if v == "" {
		return "api"
	}
	return v
}

func parseWindow(r *http.Request, defaultSpan time.Duration) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	start := now.Add(-defaultSpan)
	end := now

	if raw := r.URL.Query().Get("start"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errBadTime("start")
		}
		start = parsed
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errBadTime("end")
		}
		end = parsed
	}
	return start, end, nil
}

type badTimeError struct{ field string }

func (e badTimeError) Error() string { return e.field + " must be RFC3339" }

func errBadTime(field string) error { return badTimeError{field: field} }
