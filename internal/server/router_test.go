package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"chatwire/internal/config"
	"chatwire/internal/models"
	"chatwire/internal/service"
	"chatwire/internal/ws"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestEngine(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.Message{}, &models.RefreshToken{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	uploadDir := t.TempDir()
	cfg := config.Config{Port: "0", JWTSecret: "secret", Env: "dev", AccessTokenTTLMinutes: 15, RefreshTokenTTLDays: 7, UploadDir: uploadDir}
	reg := ws.NewRegistry()
	router := ws.NewRouter(reg, service.NewMessageService(db), service.NewUserService(db, cfg), ws.AllConnected{})
	return SetupRouter(cfg, db, reg, router), uploadDir
}

// authToken 注册并登录一个用户，返回可用的 access token。
func authToken(t *testing.T, engine *gin.Engine) string {
	t.Helper()
	body := `{"username":"uploader","password":"pass1234"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("register: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.AccessToken == "" {
		t.Fatalf("login response missing access_token: %s", w.Body.String())
	}
	return resp.AccessToken
}

// uploadRequest 构造一个带鉴权的 multipart 上传请求。
func uploadRequest(t *testing.T, token, filename string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte("file-bytes")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestHealthz(t *testing.T) {
	engine, _ := newTestEngine(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestUsers_RequiresAuth(t *testing.T) {
	engine, _ := newTestEngine(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRegisterThenLogin(t *testing.T) {
	engine, _ := newTestEngine(t)

	body := `{"username":"alice","password":"pass1234"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("register: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "access_token") {
		t.Errorf("login response missing access_token: %s", w.Body.String())
	}
}

func TestUpload_RejectsNonImageFiles(t *testing.T) {
	engine, uploadDir := newTestEngine(t)
	token := authToken(t, engine)

	for _, filename := range []string{"notes.txt", "payload.exe", "page.html", "noextension"} {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, uploadRequest(t, token, filename))
		if w.Code != http.StatusBadRequest {
			t.Errorf("upload %q: expected 400, got %d: %s", filename, w.Code, w.Body.String())
		}
	}
	entries, err := os.ReadDir(uploadDir)
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("rejected uploads left %d files on disk", len(entries))
	}
}

func TestUpload_SavesImageAndReturnsURL(t *testing.T) {
	engine, uploadDir := newTestEngine(t)
	token := authToken(t, engine)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, uploadRequest(t, token, "avatar.PNG"))
	if w.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	// 文件名是服务端生成的 uuid，扩展名统一小写
	pattern := regexp.MustCompile(`^/uploads/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.png$`)
	if !pattern.MatchString(resp.URL) {
		t.Fatalf("upload url = %q, want /uploads/<uuid>.png", resp.URL)
	}
	saved, err := os.ReadFile(filepath.Join(uploadDir, strings.TrimPrefix(resp.URL, "/uploads/")))
	if err != nil {
		t.Fatalf("saved file missing: %v", err)
	}
	if string(saved) != "file-bytes" {
		t.Errorf("saved content = %q, want original bytes", saved)
	}
}

func TestUpload_RequiresAuth(t *testing.T) {
	engine, _ := newTestEngine(t)
	req := uploadRequest(t, "", "avatar.png")
	req.Header.Del("Authorization")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	engine, _ := newTestEngine(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"username":"ghost","password":"nope1234"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
