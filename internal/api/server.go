// Package api exposes a small read-only HTTP surface for dashboards: health,
// current vitals, lookahead prediction, the session event record, and a live
// websocket stream.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sedsim/sedsim/internal/events"
	"github.com/sedsim/sedsim/internal/pharma"
	"github.com/sedsim/sedsim/internal/storage/postgres"
)

// Simulation is the server's view of the live physiology engine: the current
// snapshot plus the state needed to run lookahead predictions.
type Simulation interface {
	Snapshot() pharma.Snapshot
	DrugStates() map[string]pharma.DrugState
	Infusions() map[string]float64
	Patient() pharma.Profile
	Environment() pharma.Environment
	CurrentVitals() pharma.Vitals
}

// Server serves the session's read-only API.
type Server struct {
	log   *events.Log
	sim   Simulation
	store *postgres.Client
}

// NewServer wires the API to one session's event log and simulation.
func NewServer(log *events.Log, sim Simulation) *Server {
	return &Server{log: log, sim: sim}
}

// SetStore attaches the optional Postgres client backing the history and
// completed-scenario endpoints.
func (s *Server) SetStore(store *postgres.Client) {
	s.store = store
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "sedsim",
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.log.Snapshot())
}

func (s *Server) vitalsHandler(w http.ResponseWriter, r *http.Request) {
	if s.sim == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no active simulation"})
		return
	}
	writeJSON(w, http.StatusOK, s.sim.Snapshot())
}

// predictHandler answers "what do the vitals look like N seconds from now".
// Sample times come from repeated at= parameters; an optional drug= and
// dose_mg= pair adds a hypothetical bolus to the lookahead.
//
//	GET /api/predict?at=30&at=60&at=120&drug=propofol&dose_mg=20
func (s *Server) predictHandler(w http.ResponseWriter, r *http.Request) {
	if s.sim == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no active simulation"})
		return
	}

	q := r.URL.Query()
	var times []int
	for _, raw := range q["at"] {
		t, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad at value: " + raw})
			return
		}
		times = append(times, t)
	}
	if len(times) == 0 {
		times = []int{30, 60, 120}
	}

	var bolus *pharma.HypotheticalBolus
	if drug := q.Get("drug"); drug != "" {
		dose, err := strconv.ParseFloat(q.Get("dose_mg"), 64)
		if err != nil || dose <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "drug requires a positive dose_mg"})
			return
		}
		bolus = &pharma.HypotheticalBolus{Drug: drug, DoseMg: dose}
	}

	out := pharma.PredictForward(
		s.sim.DrugStates(),
		s.sim.Infusions(),
		s.sim.Patient(),
		s.sim.Environment(),
		s.sim.CurrentVitals(),
		times,
		bolus,
	)
	writeJSON(w, http.StatusOK, out)
}

// catalogHandler lists the content vocabulary dashboards can offer.
func (s *Server) catalogHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"drugs":           pharma.DrugNames(),
		"patients":        pharma.PatientKeys(),
		"default_patient": pharma.DefaultPatientKey,
	})
}

// historyHandler serves the persisted event record, newest first. Requires
// Postgres; without it the in-memory /api/events is all there is.
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "persistence not enabled"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := s.store.Query(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) completedHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "persistence not enabled"})
		return
	}
	done, err := s.store.CompletedScenarios()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, done)
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/api/events", s.eventsHandler)
	mux.HandleFunc("/api/vitals", s.vitalsHandler)
	mux.HandleFunc("/api/predict", s.predictHandler)
	mux.HandleFunc("/api/catalog", s.catalogHandler)
	mux.HandleFunc("/api/history", s.historyHandler)
	mux.HandleFunc("/api/completed", s.completedHandler)
	mux.HandleFunc("/ws/events", s.wsEventsHandler)
	return mux
}

// ListenAndServe starts the API server on the given port and blocks.
func (s *Server) ListenAndServe(port int) error {
	addr := fmt.Sprintf(":%d", port)
	logrus.Infof("api listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// Start starts the API server in a goroutine.
// Errors are logged but do not stop the caller.
func (s *Server) Start(port int) {
	go func() {
		if err := s.ListenAndServe(port); err != nil {
			logrus.WithError(err).Error("api server error")
		}
	}()
}
