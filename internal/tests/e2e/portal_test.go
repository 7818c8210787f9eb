//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/taxdesk/portal/config"
	"github.com/taxdesk/portal/internal/db"
	"github.com/taxdesk/portal/internal/server"
	"github.com/taxdesk/portal/types"
)

const (
	serverPort = 18080
)

var baseURL = fmt.Sprintf("http://localhost:%d", serverPort)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	service := httptest.NewServer(processingService())
	setEnv(service.URL)

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown(context.Background())
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown(context.Background())
	service.Close()
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestAdminChangesAreAudited(t *testing.T) {
	admin := newBrowser(t)
	if err := admin.login("admin", "admin-pw"); err != nil {
		t.Fatalf("login: %v", err)
	}

	status, body, err := admin.do(http.MethodPost, "/api/admin/users/7/modules/indirect_tax", nil)
	if err != nil {
		t.Fatalf("toggle module access: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("toggle module access status %d: %s", status, body)
	}

	status, body, err = admin.do(http.MethodGet, "/api/admin/audit?limit=5", nil)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("list audit status %d: %s", status, body)
	}

	var page struct {
		Items []types.AuditEntry `json:"items"`
		Total int                `json:"total"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("decode audit page: %v", err)
	}
	if len(page.Items) == 0 {
		t.Fatalf("expected at least one audit entry")
	}
	latest := page.Items[0]
	if latest.Action != types.AuditUserModules || latest.TargetID != "7" {
		t.Fatalf("unexpected latest audit entry: %+v", latest)
	}
	if latest.ActorUsername != "admin" {
		t.Fatalf("unexpected actor: %q", latest.ActorUsername)
	}
}

func TestBinaryResultIsStoredAndDownloadable(t *testing.T) {
	admin := newBrowser(t)
	if err := admin.login("admin", "admin-pw"); err != nil {
		t.Fatalf("login: %v", err)
	}

	status, body, err := admin.upload("/api/modules/fixed_assets/files/file_assets", "assets.xlsx", []byte("asset schedule"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("upload status %d: %s", status, body)
	}

	status, body, err = admin.do(http.MethodPost, "/api/modules/fixed_assets/submit", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if status != http.StatusAccepted {
		t.Fatalf("submit status %d: %s", status, body)
	}

	run, err := admin.waitForRun("fixed_assets")
	if err != nil {
		t.Fatalf("wait for run: %v", err)
	}
	if run.Status != types.RunSuccess {
		t.Fatalf("run finished with %s: %s", run.Status, run.Message)
	}
	if !strings.HasPrefix(run.DownloadURL, "/api/downloads/") {
		t.Fatalf("unexpected download url: %q", run.DownloadURL)
	}

	status, body, err = admin.do(http.MethodGet, run.DownloadURL, nil)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if status != http.StatusOK || string(body) != "register-bytes" {
		t.Fatalf("download status %d: %q", status, body)
	}
}

func TestNavigationStateIsKept(t *testing.T) {
	b := newBrowser(t)
	if err := b.login("ravi", "ravi-pw"); err != nil {
		t.Fatalf("login: %v", err)
	}

	status, _, err := b.do(http.MethodPost, "/api/navigation/toggle/indirect_tax", nil)
	if err != nil || status != http.StatusOK {
		t.Fatalf("toggle: status %d, err %v", status, err)
	}

	status, body, err := b.do(http.MethodGet, "/api/navigation", nil)
	if err != nil || status != http.StatusOK {
		t.Fatalf("navigation: status %d, err %v", status, err)
	}
	var nav struct {
		Nodes []struct {
			ID       string `json:"id"`
			Expanded bool   `json:"expanded"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal(body, &nav); err != nil {
		t.Fatalf("decode navigation: %v", err)
	}
	expanded := false
	for _, n := range nav.Nodes {
		if n.ID == "indirect_tax" {
			expanded = n.Expanded
		}
	}
	if !expanded {
		t.Fatalf("expected indirect_tax to stay expanded: %s", body)
	}
}

type browser struct {
	client *http.Client
}

func newBrowser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &browser{client: &http.Client{Jar: jar, Timeout: 30 * time.Second}}
}

func (b *browser) do(method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return b.send(req)
}

func (b *browser) upload(path, filename string, data []byte) (int, []byte, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return 0, nil, err
	}
	if _, err := part.Write(data); err != nil {
		return 0, nil, err
	}
	if err := writer.Close(); err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+path, &body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return b.send(req)
}

func (b *browser) send(req *http.Request) (int, []byte, error) {
	resp, err := b.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

func (b *browser) login(username, password string) error {
	status, body, err := b.do(http.MethodPost, "/api/auth/login", map[string]string{"username": username, "password": password})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("login status %d: %s", status, strings.TrimSpace(string(body)))
	}
	return nil
}

func (b *browser) waitForRun(moduleID string) (types.RunView, error) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		status, body, err := b.do(http.MethodGet, "/api/modules/"+moduleID, nil)
		if err != nil {
			return types.RunView{}, err
		}
		if status != http.StatusOK {
			return types.RunView{}, fmt.Errorf("mount status %d: %s", status, body)
		}
		var parsed struct {
			Run types.RunView `json:"run"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return types.RunView{}, err
		}
		if parsed.Run.Status != types.RunProcessing {
			return parsed.Run, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return types.RunView{}, fmt.Errorf("run did not finish")
}

// processingService stands in for the document processing service.
func processingService() http.Handler {
	users := []types.User{
		{ID: 1, Username: "admin", Password: "admin-pw", Name: "Admin", Role: types.RoleAdmin, Status: types.StatusActive},
		{ID: 7, Username: "ravi", Password: "ravi-pw", Name: "Ravi", Role: types.RoleUser, Status: types.StatusActive},
	}
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var in struct{ Username, Password string }
		_ = json.NewDecoder(r.Body).Decode(&in)
		for _, u := range users {
			if u.Username == in.Username && u.Password == in.Password {
				writeJSON(w, map[string]any{"success": true, "user": u})
				return
			}
		}
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]any{"success": false, "error": "Invalid credentials"})
	})
	mux.HandleFunc("GET /api/auth/users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, users)
	})
	mux.HandleFunc("POST /api/auth/users", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&users)
		writeJSON(w, map[string]any{"success": true})
	})
	mux.HandleFunc("GET /api/chat", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []types.ChatMessage{})
	})
	mux.HandleFunc("POST /api/fixed-assets/calculate", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		_, _ = w.Write([]byte("register-bytes"))
	})
	return mux
}

func setEnv(serviceURL string) {
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("TAXDESK_BACKEND_URL", serviceURL)
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "taxdesk")
	_ = os.Setenv("DB_PASSWORD", "taxdesk")
	_ = os.Setenv("DB_NAME", "taxdesk")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("SESSION_STORE", "redis")
	_ = os.Setenv("REDIS_URL", "redis://localhost:6379/0")
	_ = os.Setenv("STORAGE_BACKEND", "minio")
	_ = os.Setenv("MINIO_ENDPOINT", "localhost:9000")
	_ = os.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	_ = os.Setenv("MINIO_SECRET_KEY", "minioadmin")
	_ = os.Setenv("MINIO_BUCKET", "taxdesk-e2e")
}

func waitForPostgres(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	conn, err := sql.Open("postgres", db.PostgresURL(cfg.Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	migrationsURL := "file://" + filepath.Join(root, "internal", "db", "migrations")

	migrator, err := migrate.New(migrationsURL, db.PostgresURL(cfg.Database))
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func startServer(ctx context.Context) (*server.Server, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	srv, err := server.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
