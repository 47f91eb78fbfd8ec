package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/KevinKickass/OpenHeatTelemetry/internal/api/websocket"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/config"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/diagnostics"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/interfaces"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/poller"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/registers"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type fakeLifecycle struct {
	cfg     *config.Config
	catalog *registers.Catalog
	latest  *poller.CycleResult
}

func (f *fakeLifecycle) Config() *config.Config         { return f.cfg }
func (f *fakeLifecycle) Catalog() *registers.Catalog    { return f.catalog }
func (f *fakeLifecycle) Shutdown(context.Context) error { return nil }

func (f *fakeLifecycle) LatestCycle() (poller.CycleResult, bool) {
	if f.latest == nil {
		return poller.CycleResult{}, false
	}
	return *f.latest, true
}

func (f *fakeLifecycle) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{State: "RUNNING", Profile: "macon", Transport: "rtu"}
}

func newTestServer(t *testing.T, lm *fakeLifecycle) http.Handler {
	t.Helper()
	cfg := &config.Config{Server: config.ServerConfig{HTTPPort: 0}}
	lm.cfg = cfg
	return NewServer(cfg, lm, zap.NewNop(), websocket.NewHub(zap.NewNop())).Handler()
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s: invalid JSON %q: %v", path, rec.Body.String(), err)
	}
	return rec, body
}

func TestServer_Health(t *testing.T) {
	h := newTestServer(t, &fakeLifecycle{})
	rec, body := get(t, h, "/health")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", rec.Code, body)
	}
}

func TestServer_Status(t *testing.T) {
	h := newTestServer(t, &fakeLifecycle{})
	rec, body := get(t, h, "/api/v1/status")
	if rec.Code != http.StatusOK || body["state"] != "RUNNING" || body["profile"] != "macon" {
		t.Fatalf("status = %d %v", rec.Code, body)
	}
}

func TestServer_LatestCycle(t *testing.T) {
	lm := &fakeLifecycle{}
	h := newTestServer(t, lm)

	rec, body := get(t, h, "/api/v1/cycles/latest")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("before first cycle: %d", rec.Code)
	}
	errBody, _ := body["error"].(map[string]any)
	if errBody["code"] != "CYCLE_404" {
		t.Fatalf("error body = %v", body)
	}

	id := uuid.New()
	lm.latest = &poller.CycleResult{
		ID:    id,
		Phase: "B",
		Hypotheses: []diagnostics.Hypothesis{{
			Code:     diagnostics.CodeDisconnected,
			Severity: diagnostics.SeverityCritical,
			Sensor:   "Solar_temperature",
			Message:  diagnostics.MessageDisconnected,
		}},
	}

	rec, body = get(t, h, "/api/v1/cycles/latest")
	if rec.Code != http.StatusOK || body["id"] != id.String() {
		t.Fatalf("latest = %d %v", rec.Code, body)
	}

	rec, body = get(t, h, "/api/v1/diagnostics")
	if rec.Code != http.StatusOK {
		t.Fatalf("diagnostics = %d", rec.Code)
	}
	hyps, _ := body["hypotheses"].([]any)
	if len(hyps) != 1 {
		t.Fatalf("hypotheses = %v", body["hypotheses"])
	}
	first := hyps[0].(map[string]any)
	if first["severity"] != "critical" || first["message"] != diagnostics.MessageDisconnected {
		t.Fatalf("hypothesis = %v", first)
	}
}

func TestServer_Registers(t *testing.T) {
	loader, err := registers.NewProfileLoader(nil)
	if err != nil {
		t.Fatal(err)
	}
	catalog, err := loader.Load("macon")
	if err != nil {
		t.Fatal(err)
	}

	h := newTestServer(t, &fakeLifecycle{catalog: catalog})
	rec, body := get(t, h, "/api/v1/registers")
	if rec.Code != http.StatusOK {
		t.Fatalf("registers = %d", rec.Code)
	}
	profile, _ := body["profile"].(map[string]any)
	if profile["id"] != "macon" {
		t.Fatalf("profile = %v", body["profile"])
	}
	regs, _ := body["registers"].([]any)
	if len(regs) == 0 {
		t.Fatal("no registers listed")
	}

	rec, _ = get(t, newTestServer(t, &fakeLifecycle{}), "/api/v1/registers")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("without catalog: %d", rec.Code)
	}
}
