package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/linechain/internal/anchor"
	"github.com/jmerrifield20/linechain/internal/api"
	"github.com/jmerrifield20/linechain/internal/audit"
	"github.com/jmerrifield20/linechain/internal/auth"
	"github.com/jmerrifield20/linechain/internal/chain"
	"go.uber.org/zap"
)

var ctx = context.Background()

type fixture struct {
	router   *gin.Engine
	store    *anchor.MemoryStore
	log      string
	artifact string
}

func setupRouter(t *testing.T, withStore bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	logPath := filepath.Join(dir, "evidence_log.csv")
	if err := os.WriteFile(logPath, []byte("A1,t1\nA2,t2\nA3,t3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	artifact := chain.DefaultArtifactPath(logPath, chain.FormatJSONL)
	if _, err := chain.Build(ctx, logPath, artifact, chain.BuildOptions{}); err != nil {
		t.Fatal(err)
	}

	f := &fixture{log: logPath, artifact: artifact}
	var store anchor.Store
	if withStore {
		f.store = anchor.NewMemoryStore()
		store = f.store
	}
	chains := []api.Chain{
		{Name: "evidence", Log: logPath, Artifact: artifact},
		{Name: "broken", Log: filepath.Join(dir, "missing.log"), Artifact: filepath.Join(dir, "missing.chain.jsonl")},
	}
	h := api.NewChainHandler(chains, store, 0, zap.NewNop())
	f.router = api.NewRouter(ctx, api.RouterConfig{}, h, zap.NewNop())
	return f
}

func get(t *testing.T, router *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestHealthz_200(t *testing.T) {
	f := setupRouter(t, false)
	w, _ := get(t, f.router, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestListChains_200(t *testing.T) {
	f := setupRouter(t, false)

	w, resp := get(t, f.router, "/api/v1/chains")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	chains := resp["chains"].([]any)
	if len(chains) != 2 {
		t.Fatalf("expected 2 chains, got %d", len(chains))
	}
	// Sorted by name: broken, evidence.
	broken := chains[0].(map[string]any)
	if broken["error"] == nil {
		t.Errorf("expected an error for the missing artifact, got %v", broken)
	}
	evidence := chains[1].(map[string]any)
	if int(evidence["records"].(float64)) != 3 {
		t.Errorf("expected 3 records, got %v", evidence["records"])
	}
}

func TestOverview_404(t *testing.T) {
	f := setupRouter(t, false)
	w, _ := get(t, f.router, "/api/v1/chains/nope")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestOverview_withCheckpoint(t *testing.T) {
	f := setupRouter(t, true)
	if _, _, err := anchor.Anchor(ctx, f.store, "evidence", f.artifact); err != nil {
		t.Fatal(err)
	}

	w, resp := get(t, f.router, "/api/v1/chains/evidence")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["algorithm"] != "sha256" {
		t.Errorf("algorithm: got %v", resp["algorithm"])
	}
	cp, ok := resp["checkpoint"].(map[string]any)
	if !ok {
		t.Fatalf("expected checkpoint in response, got %v", resp)
	}
	if cp["head"] != resp["head"] {
		t.Errorf("checkpoint head %v != artifact head %v", cp["head"], resp["head"])
	}
}

func TestVerify_valid(t *testing.T) {
	f := setupRouter(t, false)

	w, resp := get(t, f.router, "/api/v1/chains/evidence/verify")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["verdict"] != string(chain.VerdictValid) {
		t.Errorf("expected VALID, got %v", resp["verdict"])
	}
}

func TestVerify_tampered(t *testing.T) {
	f := setupRouter(t, false)
	if err := os.WriteFile(f.log, []byte("A1,t1\nA2,tX\nA3,t3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, resp := get(t, f.router, "/api/v1/chains/evidence/verify")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["verdict"] != string(chain.VerdictTampered) {
		t.Errorf("expected TAMPERED, got %v", resp["verdict"])
	}
	if int(resp["index"].(float64)) != 1 {
		t.Errorf("expected divergence at index 1, got %v", resp["index"])
	}
}

func TestVerify_anchorMismatch(t *testing.T) {
	f := setupRouter(t, true)
	if _, _, err := anchor.Anchor(ctx, f.store, "evidence", f.artifact); err != nil {
		t.Fatal(err)
	}
	// Rewrite history consistently: both log and artifact.
	if err := os.WriteFile(f.log, []byte("A1,t1\nA2,tX\nA3,t3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := chain.Build(ctx, f.log, f.artifact, chain.BuildOptions{}); err != nil {
		t.Fatal(err)
	}

	_, plain := get(t, f.router, "/api/v1/chains/evidence/verify")
	if plain["verdict"] != string(chain.VerdictValid) {
		t.Errorf("unanchored: expected VALID, got %v", plain["verdict"])
	}

	_, resp := get(t, f.router, "/api/v1/chains/evidence/verify?anchor=true")
	if resp["verdict"] != string(chain.VerdictTampered) || resp["kind"] != string(chain.KindAnchorMismatch) {
		t.Errorf("anchored: expected TAMPERED/anchor_mismatch, got %v/%v", resp["verdict"], resp["kind"])
	}
}

func TestVerify_anchorWithoutStore_400(t *testing.T) {
	f := setupRouter(t, false)
	w, _ := get(t, f.router, "/api/v1/chains/evidence/verify?anchor=true")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestVerify_algorithmMismatch_422(t *testing.T) {
	f := setupRouter(t, false)
	w, resp := get(t, f.router, "/api/v1/chains/evidence/verify?algorithm=blake3")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	if resp["code"] != "algorithm_mismatch" {
		t.Errorf("code: got %v", resp["code"])
	}
}

func TestVerify_missingArtifact_500(t *testing.T) {
	f := setupRouter(t, false)
	w, resp := get(t, f.router, "/api/v1/chains/broken/verify")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if resp["code"] != "io_failure" {
		t.Errorf("code: got %v", resp["code"])
	}
}

func TestGetRecord(t *testing.T) {
	f := setupRouter(t, false)

	w, resp := get(t, f.router, "/api/v1/chains/evidence/records/2")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if int(resp["index"].(float64)) != 2 {
		t.Errorf("index: got %v", resp["index"])
	}
	if len(resp["chain_digest"].(string)) != 64 {
		t.Errorf("chain_digest should be 64 hex chars, got %v", resp["chain_digest"])
	}

	if w, _ := get(t, f.router, "/api/v1/chains/evidence/records/3"); w.Code != http.StatusNotFound {
		t.Errorf("past the end: expected 404, got %d", w.Code)
	}
	if w, _ := get(t, f.router, "/api/v1/chains/evidence/records/-1"); w.Code != http.StatusBadRequest {
		t.Errorf("negative: expected 400, got %d", w.Code)
	}
}

func TestListRecords_window(t *testing.T) {
	f := setupRouter(t, false)

	w, resp := get(t, f.router, "/api/v1/chains/evidence/records?from=1&limit=1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	records := resp["records"].([]any)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if int(records[0].(map[string]any)["index"].(float64)) != 1 {
		t.Errorf("expected record 1, got %v", records[0])
	}
	if int(resp["total"].(float64)) != 3 {
		t.Errorf("total: got %v", resp["total"])
	}

	if w, _ := get(t, f.router, "/api/v1/chains/evidence/records?limit=0"); w.Code != http.StatusBadRequest {
		t.Errorf("limit=0: expected 400, got %d", w.Code)
	}
}

func TestListCheckpoints(t *testing.T) {
	f := setupRouter(t, true)

	w, resp := get(t, f.router, "/api/v1/chains/evidence/checkpoints")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if n := len(resp["checkpoints"].([]any)); n != 0 {
		t.Errorf("expected no checkpoints, got %d", n)
	}

	if _, _, err := anchor.Anchor(ctx, f.store, "evidence", f.artifact); err != nil {
		t.Fatal(err)
	}
	_, resp = get(t, f.router, "/api/v1/chains/evidence/checkpoints")
	if n := len(resp["checkpoints"].([]any)); n != 1 {
		t.Errorf("expected 1 checkpoint, got %d", n)
	}
}

func TestListCheckpoints_noStore_404(t *testing.T) {
	f := setupRouter(t, false)
	w, _ := get(t, f.router, "/api/v1/chains/evidence/checkpoints")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := setupRouter(t, false)
	get(t, f.router, "/api/v1/chains/evidence/verify")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "linechain_http_requests_total") {
		t.Error("expected HTTP request counter in metrics output")
	}
	if !strings.Contains(w.Body.String(), `linechain_verifications_total{verdict="VALID"}`) {
		t.Error("expected verification counter in metrics output")
	}
}

func TestVerify_cache(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := setupRouter(t, false)
	h := api.NewChainHandler([]api.Chain{{Name: "evidence", Log: f.log, Artifact: f.artifact}}, nil, 0, zap.NewNop())
	h.SetVerifyCacheTTL(time.Minute)
	router := api.NewRouter(ctx, api.RouterConfig{}, h, zap.NewNop())

	w, _ := get(t, router, "/api/v1/chains/evidence/verify")
	if w.Header().Get("X-Cache") != "" {
		t.Fatal("first verification should not be a cache hit")
	}
	w, resp := get(t, router, "/api/v1/chains/evidence/verify")
	if w.Header().Get("X-Cache") != "HIT" {
		t.Fatal("second verification should be served from cache")
	}
	if resp["verdict"] != string(chain.VerdictValid) {
		t.Errorf("expected VALID, got %v", resp["verdict"])
	}

	// Growing the log invalidates the cached report.
	file, err := os.OpenFile(f.log, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	file.WriteString("A4,t4\n")
	file.Close()

	w, resp = get(t, router, "/api/v1/chains/evidence/verify")
	if w.Header().Get("X-Cache") == "HIT" {
		t.Fatal("cache should miss after the log changed")
	}
	if resp["verdict"] != string(chain.VerdictUncommitted) {
		t.Errorf("expected VALID_BUT_UNCOMMITTED_APPENDS, got %v", resp["verdict"])
	}
}

func TestAudit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := setupRouter(t, false)
	chains := []api.Chain{{Name: "evidence", Log: f.log, Artifact: f.artifact}}
	h := api.NewChainHandler(chains, nil, 0, zap.NewNop())
	router := api.NewRouter(ctx, api.RouterConfig{}, h, zap.NewNop())

	if w, _ := get(t, router, "/api/v1/chains/evidence/audit"); w.Code != http.StatusNotFound {
		t.Fatalf("without auditor: expected 404, got %d", w.Code)
	}

	a := audit.New([]audit.Target{{Name: "evidence", Log: f.log, Artifact: f.artifact}}, nil, audit.Config{}, zap.NewNop())
	h.SetAuditor(a)
	if w, _ := get(t, router, "/api/v1/chains/evidence/audit"); w.Code != http.StatusAccepted {
		t.Fatalf("before first audit: expected 202, got %d", w.Code)
	}

	a.CheckAll(ctx)
	w, resp := get(t, router, "/api/v1/chains/evidence/audit")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	report := resp["report"].(map[string]any)
	if report["verdict"] != string(chain.VerdictValid) {
		t.Errorf("expected VALID, got %v", report["verdict"])
	}
}

func TestAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := setupRouter(t, false)
	tokens, err := auth.NewTokenIssuer("0123456789abcdef0123456789abcdef", "linechain", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	h := api.NewChainHandler([]api.Chain{{Name: "evidence", Log: f.log, Artifact: f.artifact}}, nil, 0, zap.NewNop())
	router := api.NewRouter(ctx, api.RouterConfig{Tokens: tokens}, h, zap.NewNop())

	if w, _ := get(t, router, "/healthz"); w.Code != http.StatusOK {
		t.Fatalf("healthz should not need a token, got %d", w.Code)
	}
	if w, _ := get(t, router, "/api/v1/chains"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	token, err := tokens.Issue("test", []string{auth.ScopeRead})
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/chains", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", w.Code, w.Body.String())
	}
}
