package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/droplite/service/internal/config"
	"github.com/droplite/service/internal/db"
	appMiddleware "github.com/droplite/service/internal/middleware"
	"github.com/droplite/service/internal/share"
	"github.com/droplite/service/internal/storage"
)

const testSecret = "router-test-secret"

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		BaseURL:            "http://drop.test",
		DatabaseURL:        "sqlite3://" + filepath.Join(dir, "files.db"),
		StoragePrefix:      "drop-lite",
		UploadTempDir:      filepath.Join(dir, "tmp"),
		MaxFileSize:        1 << 20,
		MaxBodySize:        4 << 20,
		MaxImages:          10,
		MaxVideos:          1,
		UploadConcurrency:  2,
		UploadTimeout:      time.Minute,
		FileRetention:      7 * 24 * time.Hour,
		RateGlobal:         1000,
		RateGlobalWindow:   15 * time.Minute,
		RateUpload:         5,
		RateUploadWindow:   10 * time.Minute,
		RateVerify:         20,
		RateVerifyWindow:   15 * time.Minute,
		RateClients:        100,
		SweepBatch:         10,
		AdminJWTSecret:     testSecret,
		CORSAllowedOrigins: []string{"*"},
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newTestServerWithConfig(t, testConfig(t))
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	conn, err := db.OpenSQLite(cfg.SQLitePath(), logger)
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	store := share.NewCachedStore(share.NewSQLiteStore(conn), 64, time.Minute)

	srv := httptest.NewUnstartedServer(nil)
	blobs, err := storage.NewLocalStorage(filepath.Join(t.TempDir(), "blobs"), "http://"+srv.Listener.Addr().String()+"/media")
	if err != nil {
		t.Fatalf("NewLocalStorage() error: %v", err)
	}

	uploader := share.NewUploader(store, blobs, share.UploaderOptions{
		Prefix:      cfg.StoragePrefix,
		BaseURL:     cfg.BaseURL,
		Retention:   cfg.FileRetention,
		Concurrency: cfg.UploadConcurrency,
		Timeout:     cfg.UploadTimeout,
	}, logger)
	gateway := share.NewGateway(store, logger)
	sweeper := share.NewSweeper(store, blobs, share.SweeperOptions{Batch: cfg.SweepBatch, Prefix: cfg.StoragePrefix}, logger)

	srv.Config.Handler = NewRouter(Deps{
		Config: cfg,
		Logger: logger,
		Files: share.NewHandler(uploader, gateway, share.Limits{
			MaxFileSize: cfg.MaxFileSize, MaxImages: cfg.MaxImages, MaxVideos: cfg.MaxVideos,
		}, cfg.UploadTempDir, logger),
		Admin: share.NewAdminHandler(sweeper),
		Media: blobs.Handler(),
		Ping:  store.Ping,
	})
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func postJSONFrom(t *testing.T, url, body, forwardedFor string) *http.Response {
	t.Helper()
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", forwardedFor)
	req.Header.Set("X-Real-IP", forwardedFor)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestShareScenario(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range []struct{ field, name, content string }{
		{"images", "one.jpg", "jpeg one"},
		{"images", "two.jpg", "jpeg two"},
		{"video", "clip.mp4", "mp4 frames"},
	} {
		fw, _ := mw.CreateFormFile(f.field, f.name)
		fw.Write([]byte(f.content))
	}
	mw.Close()

	resp, err := http.Post(srv.URL+"/upload-file/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d: %v", resp.StatusCode, decode(t, resp))
	}
	up := decode(t, resp)
	code := up["code"].(string)
	links := up["downloadLinks"].([]any)
	if len(code) != 4 || len(links) != 3 {
		t.Fatalf("upload response = %v", up)
	}

	id := strings.TrimPrefix(links[0].(string), "http://drop.test/f/")

	resp, _ = http.Get(srv.URL + "/download-file/" + id)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metadata status = %d", resp.StatusCode)
	}
	if meta := decode(t, resp); meta["fileName"] != "one.jpg" {
		t.Errorf("metadata = %v", meta)
	}

	resp = postJSON(t, srv.URL+"/download-file/"+id+"/verify", `{"code":"abcd"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("wrong code status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/download-file/"+id+"/verify", `{"code":"`+code+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status = %d", resp.StatusCode)
	}
	acc := decode(t, resp)

	// The returned URL is served by the local media route.
	media, err := http.Get(acc["url"].(string))
	if err != nil {
		t.Fatalf("GET media: %v", err)
	}
	got, _ := io.ReadAll(media.Body)
	media.Body.Close()
	if string(got) != "jpeg one" {
		t.Errorf("media body = %q", got)
	}

	// Directory listings would reveal every stored key without a code.
	for _, dir := range []string{"/media/", "/media/drop-lite/", "/media/drop-lite/images/", "/media/drop-lite/videos"} {
		resp, err := http.Get(srv.URL + dir)
		if err != nil {
			t.Fatalf("GET %s: %v", dir, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", dir, resp.StatusCode)
		}
		if strings.Contains(string(body), ".jpg") || strings.Contains(string(body), ".mp4") {
			t.Errorf("GET %s leaked object keys: %q", dir, body)
		}
	}
}

func TestVerifyRateLimit(t *testing.T) {
	srv := newTestServer(t)

	for i := 0; i < 20; i++ {
		resp := postJSON(t, srv.URL+"/download-file/Abcde1/verify", `{"code":"0000"}`)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("attempt %d status = %d, want 404", i+1, resp.StatusCode)
		}
	}
	resp := postJSON(t, srv.URL+"/download-file/Abcde1/verify", `{"code":"0000"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("21st attempt status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
	if body := decode(t, resp); body["success"] != false {
		t.Errorf("429 body = %v", body)
	}

	// Metadata lookups are not charged to the verify budget.
	resp, _ = http.Get(srv.URL + "/download-file/Abcde1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("metadata after verify limit = %d, want 404", resp.StatusCode)
	}
}

func TestVerifyRateLimitIgnoresForwardedHeaders(t *testing.T) {
	srv := newTestServer(t)
	url := srv.URL + "/download-file/Abcde1/verify"

	for i := 0; i < 20; i++ {
		resp := postJSONFrom(t, url, `{"code":"0000"}`, fmt.Sprintf("10.0.0.%d", i+1))
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("attempt %d status = %d, want 404", i+1, resp.StatusCode)
		}
	}
	resp := postJSONFrom(t, url, `{"code":"0000"}`, "10.0.0.250")
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("21st attempt with a new forwarded address = %d, want 429", resp.StatusCode)
	}
}

func TestVerifyRateLimitTrustsProxyHeadersWhenEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.TrustProxyHeaders = true
	srv := newTestServerWithConfig(t, cfg)
	url := srv.URL + "/download-file/Abcde1/verify"

	for i := 0; i < 20; i++ {
		resp := postJSONFrom(t, url, `{"code":"0000"}`, "10.0.0.1")
		resp.Body.Close()
	}
	resp := postJSONFrom(t, url, `{"code":"0000"}`, "10.0.0.1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("21st attempt from one forwarded client = %d, want 429", resp.StatusCode)
	}

	// Behind a trusted proxy, each forwarded client has its own budget.
	resp = postJSONFrom(t, url, `{"code":"0000"}`, "10.0.0.2")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("other forwarded client status = %d, want 404", resp.StatusCode)
	}
}

func TestOperationalRoutes(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := http.Get(srv.URL + "/")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "Drop Lite is running" {
		t.Errorf("root body = %q", body)
	}

	resp, _ = http.Get(srv.URL + "/health")
	if resp.StatusCode != http.StatusOK || decode(t, resp)["status"] != "ok" {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	resp, _ = http.Get(srv.URL + "/metrics")
	metrics, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(metrics), "droplite_http_requests_total") {
		t.Error("metrics exposition lacks request counter")
	}
}

func TestAdminRoutes(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := http.Post(srv.URL+"/admin/sweep", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated sweep = %d, want 401", resp.StatusCode)
	}

	token, err := appMiddleware.NewOperatorToken(testSecret, "ops", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	if err != nil {
		t.Fatalf("NewOperatorToken() error: %v", err)
	}
	for _, path := range []string{"/admin/sweep", "/admin/reconcile"} {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL+path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", path, resp.StatusCode)
		}
		if out := decode(t, resp); out["success"] != true || out["result"] == nil {
			t.Errorf("%s body = %v", path, out)
		}
	}
}
