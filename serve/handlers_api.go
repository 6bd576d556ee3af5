package serve

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/everydev1618/pmc/parking"
	"github.com/everydev1618/pmc/store"
)

// --- Lot Handlers ---

func (s *Server) handleListLots(w http.ResponseWriter, r *http.Request) {
	var (
		lots []store.Lot
		err  error
	)
	switch {
	case r.URL.Query().Get("q") != "":
		lots, err = s.svc.SearchLots(r.Context(), r.URL.Query().Get("q"), 10)
	case r.URL.Query().Get("available") == "true":
		lots, err = s.svc.AvailableLots(r.Context())
	default:
		lots, err = s.svc.Lots(r.Context())
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if lots == nil {
		lots = []store.Lot{}
	}
	writeJSON(w, http.StatusOK, lots)
}

func (s *Server) handleCreateLot(w http.ResponseWriter, r *http.Request) {
	var req parking.NewLot
	if !readJSON(w, r, &req) {
		return
	}
	lot, err := s.svc.CreateLot(r.Context(), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lot)
}

func (s *Server) handleGetLot(w http.ResponseWriter, r *http.Request) {
	lot, err := s.svc.Lot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lot)
}

func (s *Server) handleUpdateSpots(w http.ResponseWriter, r *http.Request) {
	var req SpotsRequest
	if !readJSON(w, r, &req) {
		return
	}
	free := strings.TrimSpace(req.FreeSpots)
	if free == "" {
		writeError(w, http.StatusBadRequest, "free_spots is required")
		return
	}

	update := parking.SpotUpdate{
		FreeSpots: free,
		HasSpots:  parking.HasSpots(free),
		SpotRange: req.SpotRange,
		Status:    req.Status,
	}
	if req.HasSpots != nil {
		update.HasSpots = *req.HasSpots
	}
	if update.Status == "" {
		update.Status = parking.InferStatus(free)
	}
	notify := req.Notify == nil || *req.Notify

	lot, sent, err := s.svc.UpdateSpots(r.Context(), r.PathValue("id"), update, notify)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SpotsResponse{Lot: lot, Notified: sent})
}

// --- User Handlers ---

func (s *Server) handleAssignManager(w http.ResponseWriter, r *http.Request) {
	var req ManagerRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.UserID == "" || req.LotID == "" {
		writeError(w, http.StatusBadRequest, "user_id and lot_id are required")
		return
	}
	u, err := s.svc.AssignManager(r.Context(), req.UserID, req.LotID, req.Name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.svc.Store().GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	access, err := s.svc.PremiumAccess(r.Context(), u)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{User: u, PremiumActive: access.Active, DaysRemaining: access.DaysRemaining})
}

// --- Conversation Handlers ---

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st := s.svc.Store()
	msgs, err := st.ConversationHistory(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	active, err := st.CountMessages(r.Context(), id, true)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if msgs == nil {
		msgs = []store.ConversationMessage{}
	}
	writeJSON(w, http.StatusOK, ConversationResponse{UserID: id, Active: active, Messages: msgs})
}

func (s *Server) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "bot engine not configured")
		return
	}
	n, err := s.engine.ResetConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ClearedResponse{Cleared: n})
}

// --- Maintenance Handlers ---

func (s *Server) handleSyncIndex(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, "semantic index not configured")
		return
	}
	start := time.Now()
	n, err := s.index.Sync(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{Indexed: n, Duration: time.Since(start).Milliseconds()})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Jobs())
}

// --- Helpers ---

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, parking.ErrInvalidLot):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
