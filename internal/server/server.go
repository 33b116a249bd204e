// Package server exposes mission control over HTTP and WebSocket: it
// accepts playbooks, runs them through the execution engine, and
// streams telemetry to connected ground stations.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/kestrel-uas/kestrel/internal/engine"
	"github.com/kestrel-uas/kestrel/internal/flight"
	"github.com/kestrel-uas/kestrel/internal/geojson"
	"github.com/kestrel-uas/kestrel/internal/model"
	"github.com/kestrel-uas/kestrel/internal/safety"
	"github.com/kestrel-uas/kestrel/internal/telemetry"
	"github.com/kestrel-uas/kestrel/pkg/util"
)

const serviceVersion = "1.0.0"

// Config selects the server's listen address and mission pacing.
type Config struct {
	ListenAddr string
	// TickInterval is the telemetry and physics cadence. Zero means
	// the 1 Hz default.
	TickInterval time.Duration
	// PlaybookDir holds example playbook JSON files served read-only.
	PlaybookDir string
	// Engine tunes the execution engine per deployment.
	Engine engine.Config
}

// BackendFactory builds a fresh flight backend per mission.
type BackendFactory func() flight.Backend

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// Server runs at most one mission at a time. A new mission may start
// once the previous one reaches a terminal phase.
type Server struct {
	cfg         Config
	newBackend  BackendFactory
	logger      *log.Entry
	observerSeq atomic.Int64

	mu      sync.Mutex
	mission *activeMission
}

type activeMission struct {
	id          string
	engine      *engine.Engine
	broadcaster *telemetry.Broadcaster
	cancel      context.CancelFunc
	done        chan struct{}
}

// New builds a server; missions get their backend from newBackend.
func New(cfg Config, newBackend BackendFactory) *Server {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &Server{
		cfg:        cfg,
		newBackend: newBackend,
		logger:     log.WithField("component", "server"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /mission/execute", s.handleExecute)
	mux.HandleFunc("POST /mission/abort", s.handleAbort)
	mux.HandleFunc("GET /playbooks/list", s.handlePlaybookList)
	mux.HandleFunc("GET /playbooks/{filename}", s.handlePlaybookGet)
	mux.HandleFunc("POST /playbooks/geojson", s.handleGeoJSON)
	mux.HandleFunc("GET /ws/mission/{id}", s.handleMissionWS)
	return mux
}

// ListenAndServe blocks until ctx is cancelled, then shuts the
// listener down and aborts any running mission.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.ListenAddr, Handler: s.Handler()}

	errc := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.cfg.ListenAddr).Info("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close aborts the running mission, if any, and waits for its tick
// loop to stop.
func (s *Server) Close() {
	s.mu.Lock()
	m := s.mission
	s.mu.Unlock()
	if m == nil {
		return
	}
	if err := m.engine.Abort(); err != nil && !errors.Is(err, engine.ErrNotRunning) {
		s.logger.WithError(err).Warn("abort on shutdown failed")
	}
	m.cancel()
	<-m.done
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "Kestrel Mission Control",
		"status":  "operational",
		"version": serviceVersion,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) status() model.MissionState {
	s.mu.Lock()
	m := s.mission
	s.mu.Unlock()
	if m == nil {
		return model.MissionState{Phase: model.PhaseIdle, CurrentWaypoint: -1, Timestamp: time.Now()}
	}
	return m.engine.Status()
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Playbook json.RawMessage `json:"playbook"`
		Simulate bool            `json:"simulate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed request body: %v", err))
		return
	}
	if len(req.Playbook) == 0 {
		writeError(w, http.StatusBadRequest, "missing playbook")
		return
	}

	pb, err := model.ParsePlaybook(req.Playbook)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}

	if req.Simulate {
		// Simulation mode validates without touching a backend.
		if err := safety.Validate(pb); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":     "simulation_success",
			"mission_id": pb.MissionID,
			"message":    "Playbook is valid and ready for execution",
		})
		return
	}

	if err := s.startMission(pb); err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "started",
		"mission_id": pb.MissionID,
	})
}

func (s *Server) startMission(pb *model.MissionPlaybook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mission != nil && !s.mission.engine.Status().Phase.Terminal() {
		return engine.ErrAlreadyRunning
	}

	engCfg := s.cfg.Engine
	engCfg.TickInterval = s.cfg.TickInterval
	eng := engine.New(s.newBackend(), engCfg)
	if err := eng.Start(pb); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &activeMission{
		id:          pb.MissionID,
		engine:      eng,
		broadcaster: telemetry.New(eng, s.cfg.TickInterval),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	s.mission = m

	s.logger.WithField("mission_id", m.id).Info("mission accepted")
	go func() {
		defer close(m.done)
		final := m.broadcaster.Run(ctx)
		s.logger.WithFields(log.Fields{
			"mission_id": m.id,
			"status":     final.Phase,
		}).Info("mission loop finished")
	}()
	return nil
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn("abort requested via API")

	s.mu.Lock()
	m := s.mission
	s.mu.Unlock()

	if m == nil {
		s.writeMappedError(w, engine.ErrNotRunning)
		return
	}
	if err := m.engine.Abort(); err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "aborted",
		"mission_id": m.id,
	})
}

func (s *Server) handlePlaybookList(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.cfg.PlaybookDir)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"playbooks": []interface{}{}})
		return
	}

	type summary struct {
		Filename    string `json:"filename"`
		MissionID   string `json:"mission_id"`
		Description string `json:"description"`
	}
	playbooks := make([]summary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.cfg.PlaybookDir, entry.Name()))
		if err != nil {
			continue
		}
		var meta struct {
			MissionID   string `json:"mission_id"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}
		playbooks = append(playbooks, summary{
			Filename:    entry.Name(),
			MissionID:   meta.MissionID,
			Description: meta.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"playbooks": playbooks})
}

func (s *Server) handlePlaybookGet(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(r.PathValue("filename"))
	if filepath.Ext(name) != ".json" {
		writeError(w, http.StatusNotFound, "Playbook not found")
		return
	}
	raw, err := os.ReadFile(filepath.Join(s.cfg.PlaybookDir, name))
	if err != nil {
		writeError(w, http.StatusNotFound, "Playbook not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}

func (s *Server) handleGeoJSON(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pb, err := geojson.ToPlaybook(raw, r.URL.Query().Get("mission_id"))
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "converted",
		"playbook": pb,
	})
}

// handleMissionWS attaches the client to the running mission's event
// stream. The connection stays open until the client goes away or the
// broadcaster detaches it.
func (s *Server) handleMissionWS(w http.ResponseWriter, r *http.Request) {
	missionID := r.PathValue("id")

	s.mu.Lock()
	m := s.mission
	s.mu.Unlock()
	if m == nil || m.id != missionID {
		writeError(w, http.StatusNotFound, "No such mission")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	obs := &wsObserver{
		id:   fmt.Sprintf("ws-%d-%s", s.observerSeq.Add(1), r.RemoteAddr),
		conn: conn,
	}
	m.broadcaster.Attach(obs)
	defer m.broadcaster.Detach(obs.id)

	s.logger.WithFields(log.Fields{
		"mission_id": missionID,
		"observer":   obs.id,
	}).Info("websocket connected")

	// Drain reads until the peer disconnects; inbound payloads are
	// ignored, the stream is one-way.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// wsObserver adapts one websocket connection to the telemetry
// Observer. Writes are serialized: the broadcaster and the attach
// snapshot may race otherwise.
type wsObserver struct {
	id   string
	mu   sync.Mutex
	conn *websocket.Conn
}

func (o *wsObserver) ID() string { return o.id }

func (o *wsObserver) Send(ev telemetry.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return util.SendJSON(o.conn, ev)
}

func (s *Server) writeMappedError(w http.ResponseWriter, err error) {
	var verr *safety.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Reason)
	case errors.Is(err, model.ErrMalformedPlaybook), errors.Is(err, geojson.ErrInvalidGeoJSON):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, engine.ErrAlreadyRunning), errors.Is(err, engine.ErrNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, flight.ErrConnectionFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError follows the {"detail": ...} error body convention.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	var buf json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&buf); err != nil {
		return nil, fmt.Errorf("malformed request body: %v", err)
	}
	return buf, nil
}
