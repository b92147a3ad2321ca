// ABOUTME: Link management HTTP API
// ABOUTME: Lets a UI create, list, and deactivate links and trigger sync runs
package web

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/contactbridge/contactbridge/db"
	"github.com/contactbridge/contactbridge/models"
	syncpkg "github.com/contactbridge/contactbridge/sync"
	"github.com/google/uuid"
)

type Server struct {
	db       *sql.DB
	engine   *syncpkg.Engine
	adapters map[string]syncpkg.SourceAdapter
}

func NewServer(database *sql.DB, engine *syncpkg.Engine) *Server {
	return &Server{
		db:       database,
		engine:   engine,
		adapters: make(map[string]syncpkg.SourceAdapter),
	}
}

// RegisterAdapter makes an integration available for sync triggers. An
// adapter that also implements OutboundTarget gets outbound runs for free.
func (s *Server) RegisterAdapter(adapter syncpkg.SourceAdapter) {
	s.adapters[adapter.Name()] = adapter
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/links", s.handleLinks)
	mux.HandleFunc("/links/", s.handleLinkByID)
	mux.HandleFunc("/sync", s.handleSync)
	mux.HandleFunc("/runs", s.handleRuns)
	return mux
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	log.Printf("Starting sync API at http://localhost%s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

type createLinkRequest struct {
	CompanyID        string            `json:"company_id"`
	Integration      string            `json:"integration"`
	ExternalObjectID string            `json:"external_object_id"`
	ExternalTab      string            `json:"external_tab,omitempty"`
	FieldMapping     map[string]string `json:"field_mapping,omitempty"`
	Direction        string            `json:"direction,omitempty"`
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listLinks(w, r)
	case http.MethodPost:
		s.createLink(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) listLinks(w http.ResponseWriter, r *http.Request) {
	companyID, err := uuid.Parse(r.URL.Query().Get("company_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "company_id is required")
		return
	}

	links, err := db.ListActiveLinks(s.db, companyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"links": links})
}

func (s *Server) createLink(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	companyID, err := uuid.Parse(req.CompanyID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "company_id is required")
		return
	}
	if req.Integration == "" || req.ExternalObjectID == "" {
		writeError(w, http.StatusBadRequest, "integration and external_object_id are required")
		return
	}

	link := &models.Link{
		CompanyID:        companyID,
		Integration:      req.Integration,
		ExternalObjectID: req.ExternalObjectID,
		ExternalTab:      req.ExternalTab,
		FieldMapping:     req.FieldMapping,
		Direction:        req.Direction,
	}

	if err := db.CreateOrUpdateLink(s.db, link); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, link)
}

func (s *Server) handleLinkByID(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/links/")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid link id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		link, err := db.GetLink(s.db, id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if link == nil {
			writeError(w, http.StatusNotFound, "link not found")
			return
		}
		writeJSON(w, http.StatusOK, link)

	case http.MethodDelete:
		if err := db.DeactivateLink(s.db, id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type syncRequest struct {
	// Either link_id, or company_id + integration naming the active link.
	LinkID      string   `json:"link_id,omitempty"`
	CompanyID   string   `json:"company_id,omitempty"`
	Integration string   `json:"integration,omitempty"`
	IDs         []string `json:"ids,omitempty"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	link, status, err := s.resolveSyncLink(req)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	adapter, ok := s.adapters[link.Integration]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("no adapter registered for %q", link.Integration))
		return
	}

	opts := syncpkg.Options{IDs: req.IDs}

	switch link.Direction {
	case models.DirectionBidirectional:
		target, ok := adapter.(syncpkg.OutboundTarget)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%q cannot sync outbound", link.Integration))
			return
		}
		result, err := s.engine.RunBidirectional(r.Context(), link, adapter, target, opts)
		s.writeSyncOutcome(w, result, err)

	case models.DirectionOutbound:
		target, ok := adapter.(syncpkg.OutboundTarget)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%q cannot sync outbound", link.Integration))
			return
		}
		result, err := s.engine.RunOutbound(r.Context(), link, target, opts)
		s.writeSyncOutcome(w, result, err)

	default:
		result, err := s.engine.RunInbound(r.Context(), link, adapter, opts)
		s.writeSyncOutcome(w, result, err)
	}
}

// resolveSyncLink finds the link a sync request targets: by link_id when
// given, otherwise by company_id + integration, which must name exactly one
// active link.
func (s *Server) resolveSyncLink(req syncRequest) (*models.Link, int, error) {
	if req.LinkID != "" {
		linkID, err := uuid.Parse(req.LinkID)
		if err != nil {
			return nil, http.StatusBadRequest, fmt.Errorf("invalid link_id")
		}
		link, err := db.GetLink(s.db, linkID)
		if err != nil {
			return nil, http.StatusInternalServerError, err
		}
		if link == nil {
			return nil, http.StatusNotFound, fmt.Errorf("link not found")
		}
		return link, http.StatusOK, nil
	}

	if req.Integration == "" {
		return nil, http.StatusBadRequest, fmt.Errorf("link_id or company_id + integration is required")
	}
	companyID, err := uuid.Parse(req.CompanyID)
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("company_id is required with integration")
	}

	links, err := db.ListActiveLinks(s.db, companyID)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}

	var match *models.Link
	for i := range links {
		if links[i].Integration != req.Integration {
			continue
		}
		if match != nil {
			return nil, http.StatusBadRequest, fmt.Errorf("more than one active %q link; use link_id", req.Integration)
		}
		match = &links[i]
	}
	if match == nil {
		return nil, http.StatusNotFound, fmt.Errorf("no active %q link for company", req.Integration)
	}
	return match, http.StatusOK, nil
}

// writeSyncOutcome returns the result object even for failed runs so the
// caller sees partial counters, not a bare failure.
func (s *Server) writeSyncOutcome(w http.ResponseWriter, result interface{}, err error) {
	switch {
	case errors.Is(err, syncpkg.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, syncpkg.ErrLinkInactive), errors.Is(err, syncpkg.ErrDirectionNotAllowed):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, result)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	linkID, err := uuid.Parse(r.URL.Query().Get("link_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "link_id is required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	runs, err := db.ListRuns(s.db, linkID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
