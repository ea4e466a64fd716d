// Package api exposes the HTTP control surface for the connector manager:
// registration CRUD, lifecycle operations, ad-hoc reads/writes, and browsing.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sensormine/edge-connectors/internal/config"
	"github.com/sensormine/edge-connectors/internal/connector"
	"github.com/sensormine/edge-connectors/internal/domain"
)

// Server wires the connector manager to HTTP routes.
type Server struct {
	manager *connector.Manager
	logger  zerolog.Logger
}

// NewServer creates the API server.
func NewServer(manager *connector.Manager, logger zerolog.Logger) *Server {
	return &Server{
		manager: manager,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers the API endpoints on a mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/connectors", s.handleConnectors)
	mux.HandleFunc("/api/v1/connectors/", s.handleConnector)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
}

// connectorSummary is the list/detail view of one registered connector.
type connectorSummary struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	TenantID    string               `json:"tenant_id,omitempty"`
	Type        domain.ConnectorType `json:"type"`
	Enabled     bool                 `json:"enabled"`
	Status      string               `json:"status"`
	LastError   string               `json:"last_error,omitempty"`
	Pollable    bool                 `json:"pollable"`
	Browsable   bool                 `json:"browsable"`
	Writable    bool                 `json:"writable"`
	Subscribing []string             `json:"subscriptions,omitempty"`
}

func summarize(reg *connector.Registration) connectorSummary {
	cs := connectorSummary{
		ID:        reg.Config.ID,
		Name:      reg.Config.Name,
		TenantID:  reg.Config.TenantID,
		Type:      reg.Config.Type,
		Enabled:   reg.Config.Enabled,
		Status:    string(reg.Connector.Status()),
		Pollable:  reg.Pollable(),
		Browsable: reg.Browser != nil,
		Writable:  reg.Writer != nil,
	}
	if err := reg.Connector.LastError(); err != nil {
		cs.LastError = err.Error()
	}
	if reg.Subscriber != nil {
		cs.Subscribing = reg.Subscriber.Subscriptions()
	}
	return cs
}

// handleConnectors serves the collection: list and register.
func (s *Server) handleConnectors(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		regs := s.manager.List()
		out := make([]connectorSummary, 0, len(regs))
		for _, reg := range regs {
			out = append(out, summarize(reg))
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var cfg config.ConnectorConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		reg, err := s.manager.Register(cfg)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, summarize(reg))

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleConnector serves one connector and its sub-resources:
//
//	GET/PUT/DELETE /api/v1/connectors/{id}
//	POST           /api/v1/connectors/{id}/start
//	POST           /api/v1/connectors/{id}/stop
//	POST           /api/v1/connectors/{id}/write
//	POST           /api/v1/connectors/{id}/publish
//	GET            /api/v1/connectors/{id}/browse[?node=...]
//	GET            /api/v1/connectors/{id}/read?address=...
func (s *Server) handleConnector(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/connectors/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("connector id required"))
		return
	}

	if action == "" {
		s.handleConnectorRoot(w, r, id)
		return
	}

	reg, ok := s.manager.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrConnectorNotFound)
		return
	}

	switch action {
	case "start":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := s.manager.Start(r.Context(), id); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, summarize(reg))

	case "stop":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := s.manager.Stop(r.Context(), id); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, summarize(reg))

	case "write":
		s.handleWrite(w, r, reg)

	case "publish":
		s.handlePublish(w, r, reg)

	case "browse":
		s.handleBrowse(w, r, reg)

	case "read":
		s.handleRead(w, r, reg)

	default:
		writeError(w, http.StatusNotFound, errors.New("unknown action"))
	}
}

func (s *Server) handleConnectorRoot(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		reg, ok := s.manager.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, domain.ErrConnectorNotFound)
			return
		}
		writeJSON(w, http.StatusOK, summarize(reg))

	case http.MethodPut:
		var cfg config.ConnectorConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cfg.ID = id
		reg, err := s.manager.Update(r.Context(), cfg)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, summarize(reg))

	case http.MethodDelete:
		if err := s.manager.Remove(r.Context(), id); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type writeRequest struct {
	TagID string      `json:"tag_id"`
	Value interface{} `json:"value"`
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request, reg *connector.Registration) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if reg.Writer == nil {
		writeError(w, http.StatusUnprocessableEntity, domain.ErrWriteNotSupported)
		return
	}

	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := reg.Writer.WriteTag(r.Context(), req.TagID, req.Value); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

type publishRequest struct {
	Topic    string `json:"topic"`
	Payload  string `json:"payload"`
	QoS      byte   `json:"qos"`
	Retained bool   `json:"retained"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request, reg *connector.Registration) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if reg.Publisher == nil {
		writeError(w, http.StatusUnprocessableEntity, domain.ErrSubscribeNotSupported)
		return
	}

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Topic == "" {
		writeError(w, http.StatusBadRequest, errors.New("topic required"))
		return
	}
	if err := reg.Publisher.Publish(r.Context(), req.Topic, []byte(req.Payload), req.QoS, req.Retained); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request, reg *connector.Registration) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if reg.Browser == nil {
		writeError(w, http.StatusUnprocessableEntity, domain.ErrBrowseNotSupported)
		return
	}

	var nodes []domain.BrowseNode
	var err error
	if node := r.URL.Query().Get("node"); node != "" {
		nodes, err = reg.Browser.Browse(r.Context(), node)
	} else {
		nodes, err = reg.Browser.BrowseRoot(r.Context())
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request, reg *connector.Registration) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if reg.Browser == nil {
		writeError(w, http.StatusUnprocessableEntity, domain.ErrBrowseNotSupported)
		return
	}

	address := r.URL.Query().Get("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, errors.New("address required"))
		return
	}
	dp, err := reg.Browser.ReadValue(r.Context(), address)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, dp)
}

// handleStatus serves a service-level summary plus bulk lifecycle:
//
//	GET  /api/v1/status
//	POST /api/v1/status?op=start-all|stop-all
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		regs := s.manager.List()
		byStatus := make(map[string]int)
		for _, reg := range regs {
			byStatus[string(reg.Connector.Status())]++
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"connectors":      len(regs),
			"by_status":       byStatus,
			"dropped_batches": s.manager.DroppedBatches(),
		})

	case http.MethodPost:
		var results []connector.BulkResult
		switch r.URL.Query().Get("op") {
		case "start-all":
			results = s.manager.StartAll(r.Context())
		case "stop-all":
			results = s.manager.StopAll(r.Context())
		default:
			writeError(w, http.StatusBadRequest, errors.New("op must be start-all or stop-all"))
			return
		}
		writeJSON(w, http.StatusOK, results)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrConnectorNotFound), errors.Is(err, domain.ErrTagNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConnectorExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrManagerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidConfig),
		errors.Is(err, domain.ErrConnectorIDRequired),
		errors.Is(err, domain.ErrConnectorNameRequired),
		errors.Is(err, domain.ErrConnectorTypeRequired),
		errors.Is(err, domain.ErrProtocolNotSupported),
		errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrInvalidDataType),
		errors.Is(err, domain.ErrTagNotWritable):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotConnected), errors.Is(err, domain.ErrCircuitOpen):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
