package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stashbot/internal/dedup"
	"stashbot/internal/metrics"
	"stashbot/internal/pipeline"
	"stashbot/internal/queue"
	"stashbot/internal/retry"
	"stashbot/internal/servicetoken"
	"stashbot/pkg/classify"
	"stashbot/pkg/domain"
	"stashbot/pkg/store"
)

type stubSource struct{}

func (stubSource) FileInfo(_ context.Context, fileID string) (domain.FileInfo, error) {
	return domain.FileInfo{ID: fileID, Name: "photo.jpg", MimeType: "image/jpeg", Size: 64}, nil
}

func (stubSource) Download(_ context.Context, _ string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("jpegbytes")), nil
}

func (stubSource) ChannelContext(_ context.Context, _, _ string) (string, error) {
	return "", nil
}

func (stubSource) NotifySuccess(_ context.Context, _ string, _ domain.UploadRecord) {}

func (stubSource) NotifyFailure(_ context.Context, _ string, _ domain.UploadRecord, _ error) {}

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(_ context.Context, _ []byte) (domain.Signals, error) {
	return domain.Signals{
		Labels:    []domain.Label{{Name: "character", Confidence: 0.9}},
		FaceCount: 1,
	}, nil
}

type stubObjects struct{}

func (stubObjects) Upload(_ context.Context, _ io.Reader, _ int64, filename, _, folderID string) (domain.StoredFile, error) {
	return domain.StoredFile{ID: "obj-" + filename, Name: filename, FolderID: folderID}, nil
}

func (stubObjects) EnsureFolder(_ context.Context, name, parent string) (string, error) {
	return parent + "/" + name, nil
}

func (stubObjects) Copy(_ context.Context, fileID, folderID, newName string) (domain.StoredFile, error) {
	return domain.StoredFile{ID: "copy-" + fileID, Name: newName, URL: "https://files.example/" + newName, FolderID: folderID}, nil
}

type testEnv struct {
	srv   *httptest.Server
	store *store.MemoryStore
	token string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	privatePath, publicPath := writeRSAKeyPairFiles(t)
	signer, err := servicetoken.NewSigner(privatePath, "webhook-layer", time.Minute)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	token, err := signer.Sign()
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	st := store.NewMemoryStore()
	deduper, err := dedup.NewMemoryDeduper(time.Minute)
	if err != nil {
		t.Fatalf("deduper: %v", err)
	}
	pool, err := queue.New(context.Background(), 2)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(func() { pool.DrainAndStop(2 * time.Second) })
	retrier, err := retry.New(st, 10*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("retrier: %v", err)
	}
	registry := prometheus.NewRegistry()
	scorer := classify.NewScorer(classify.Merge(classify.StaticRules(), nil), nil)
	orch := pipeline.New(
		pipeline.Config{AllowedMimes: []string{"image/"}},
		st, deduper, pool, retrier,
		stubSource{}, stubSource{}, stubAnalyzer{}, stubObjects{},
		scorer, metrics.New(registry),
	)

	s, err := New(Config{
		Pipeline:                 orch,
		Store:                    st,
		Pool:                     pool,
		Registry:                 registry,
		InternalJWTPublicKeyPath: publicPath,
		AllowedIssuers:           []string{"webhook-layer"},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return &testEnv{srv: ts, store: st, token: token}
}

func (e *testEnv) request(t *testing.T, method, path, body string, authed bool) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, http.MethodGet, "/healthz", "", false)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
}

func TestEventsRequireAuth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, http.MethodPost, "/events", `{"sourceFileId":"F1"}`, false)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestEventsAcceptedAndProcessed(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, http.MethodPost, "/events",
		`{"eventId":"ev1","sourceFileId":"F123","channelId":"C1"}`, true)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec, ok, _ := env.store.Get(context.Background(), "F123")
		if ok && rec.Status == domain.StatusCompleted {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("upload never completed")
}

func TestEventsValidationFailureIs422(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, http.MethodPost, "/events",
		`{"eventId":"ev2","sourceFileId":"bad id!","channelId":"C1"}`, true)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.store.Insert(context.Background(), domain.UploadRecord{
		SourceFileID: "F9", Status: domain.StatusCompleted, FileSize: 100,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	resp := env.request(t, http.MethodGet, "/status", "", false)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status endpoint %d", resp.StatusCode)
	}
	var body struct {
		Queue struct {
			ConcurrencyLimit int `json:"concurrencyLimit"`
		} `json:"queue"`
		Uploads domain.UploadStats `json:"uploads"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if body.Queue.ConcurrencyLimit != 2 {
		t.Fatalf("unexpected concurrency limit %d", body.Queue.ConcurrencyLimit)
	}
	if body.Uploads.Completed != 1 || body.Uploads.TotalBytes != 100 {
		t.Fatalf("unexpected upload stats %+v", body.Uploads)
	}
}

func TestUploadLookupAndFeedback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.store.Insert(ctx, domain.UploadRecord{
		SourceFileID:  "F42",
		Status:        domain.StatusCompleted,
		AICategory:    classify.CategoryMember,
		FinalFilename: "member_2026-08-31_photo.jpg",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := env.request(t, http.MethodGet, "/uploads/F42", "", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lookup status %d", resp.StatusCode)
	}
	var rec domain.UploadRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	resp.Body.Close()
	if rec.SourceFileID != "F42" {
		t.Fatalf("unexpected record %+v", rec)
	}

	resp = env.request(t, http.MethodPost, "/uploads/F42/feedback",
		`{"category":"group"}`, true)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("feedback status %d", resp.StatusCode)
	}
	var fb map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&fb); err != nil {
		t.Fatalf("decode feedback: %v", err)
	}
	if fb["feedbackType"] != string(domain.FeedbackCategoryChanged) {
		t.Fatalf("unexpected feedback type %q", fb["feedbackType"])
	}
}

func TestUploadFeedbackUnknownIDIs404(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, http.MethodPost, "/uploads/Fmissing/feedback", `{}`, true)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, http.MethodGet, "/metrics", "", false)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(body), "stashbot_events_received_total") {
		t.Fatal("expected stashbot counters in metrics exposition")
	}
}

func writeRSAKeyPairFiles(t *testing.T) (string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	dir := t.TempDir()

	privatePath := filepath.Join(dir, "private.pem")
	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}

	publicPath := filepath.Join(dir, "public.pem")
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(publicPath, publicPEM, 0o600); err != nil {
		t.Fatalf("write public key: %v", err)
	}
	return privatePath, publicPath
}
