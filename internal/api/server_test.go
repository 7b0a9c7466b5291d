package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sedsim/sedsim/internal/events"
	"github.com/sedsim/sedsim/internal/pharma"
)

func testServer(t *testing.T) (*Server, *pharma.Engine) {
	t.Helper()
	patient, err := pharma.LookupPatient("healthy_adult")
	if err != nil {
		t.Fatalf("lookup patient: %v", err)
	}
	oracle := pharma.NewEngine(patient, nil)
	log := events.NewLog(64)
	return NewServer(log, oracle), oracle
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := testServer(t)
	rec := get(t, s, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if resp.Status != "ok" || resp.Service != "sedsim" {
		t.Errorf("unexpected health payload: %+v", resp)
	}
}

func TestVitalsEndpoint(t *testing.T) {
	s, oracle := testServer(t)
	oracle.Tick(5)

	rec := get(t, s, "/api/vitals")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap pharma.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if snap.ElapsedSec != 5 {
		t.Errorf("elapsed = %v, want 5", snap.ElapsedSec)
	}
	if snap.Vitals.SpO2 <= 0 {
		t.Errorf("vitals not populated: %+v", snap.Vitals)
	}
}

func TestPredictEndpoint(t *testing.T) {
	s, oracle := testServer(t)
	oracle.AdministerDrug("propofol", 60)
	oracle.Tick(10)

	rec := get(t, s, "/api/predict?at=60&at=10&at=30")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var out []pharma.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d predictions, want 3", len(out))
	}
	for i, want := range []int{10, 30, 60} {
		if out[i].SecondsAhead != want {
			t.Errorf("prediction %d is %ds ahead, want %d", i, out[i].SecondsAhead, want)
		}
	}

	// A lookahead must never advance the live simulation.
	if got := oracle.Snapshot().ElapsedSec; got != 10 {
		t.Errorf("live elapsed = %v after predict, want 10", got)
	}
}

func TestPredictWithHypotheticalBolus(t *testing.T) {
	s, oracle := testServer(t)
	oracle.Tick(1)

	plain := get(t, s, "/api/predict?at=90")
	dosed := get(t, s, "/api/predict?at=90&drug=propofol&dose_mg=80")
	if plain.Code != http.StatusOK || dosed.Code != http.StatusOK {
		t.Fatalf("status = %d / %d", plain.Code, dosed.Code)
	}

	var p, d []pharma.Snapshot
	if err := json.Unmarshal(plain.Body.Bytes(), &p); err != nil {
		t.Fatalf("bad plain body: %v", err)
	}
	if err := json.Unmarshal(dosed.Body.Bytes(), &d); err != nil {
		t.Fatalf("bad dosed body: %v", err)
	}
	if d[0].SedationDepth <= p[0].SedationDepth {
		t.Errorf("bolus prediction depth %d should exceed plain %d",
			d[0].SedationDepth, p[0].SedationDepth)
	}
}

func TestPredictRejectsBadInput(t *testing.T) {
	s, _ := testServer(t)
	if rec := get(t, s, "/api/predict?at=soon"); rec.Code != http.StatusBadRequest {
		t.Errorf("non-numeric at: status = %d, want 400", rec.Code)
	}
	if rec := get(t, s, "/api/predict?drug=propofol"); rec.Code != http.StatusBadRequest {
		t.Errorf("drug without dose: status = %d, want 400", rec.Code)
	}
}

func TestCatalogEndpoint(t *testing.T) {
	s, _ := testServer(t)
	rec := get(t, s, "/api/catalog")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var cat struct {
		Drugs          []string `json:"drugs"`
		Patients       []string `json:"patients"`
		DefaultPatient string   `json:"default_patient"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &cat); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(cat.Drugs) == 0 || len(cat.Patients) == 0 {
		t.Fatalf("catalog empty: %+v", cat)
	}
	if cat.DefaultPatient != "healthy_adult" {
		t.Errorf("default patient = %s", cat.DefaultPatient)
	}
}

func TestHistoryUnavailableWithoutStore(t *testing.T) {
	s, _ := testServer(t)
	if rec := get(t, s, "/api/history"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/api/history status = %d, want 503", rec.Code)
	}
	if rec := get(t, s, "/api/completed"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/api/completed status = %d, want 503", rec.Code)
	}
}

func TestEventsEndpoint(t *testing.T) {
	s, _ := testServer(t)
	s.log.Emit("info", "scenario.started", "", nil)

	rec := get(t, s, "/api/events")
	var evs []events.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &evs); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(evs) != 1 || evs[0].Name != "scenario.started" {
		t.Errorf("unexpected events: %+v", evs)
	}
}
