package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	gws "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"smartshot/internal/database"
	"smartshot/internal/models"
	"smartshot/internal/services"
)

type testServer struct {
	app         *fiber.App
	screenshots *services.ScreenshotService
	broadcaster *services.Broadcaster
}

func setupTestApp(t *testing.T) *testServer {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "handlers.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	screenshots := services.NewScreenshotService(db)
	stats := services.NewStatsService(db)
	broadcaster := services.NewBroadcaster(stats, time.Second)
	t.Cleanup(broadcaster.CloseAll)

	ingest := services.NewIngestService(screenshots, broadcaster, 100)
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	ingest.SetLogger(quiet)

	shotHandler := NewScreenshotHandler(screenshots, ingest, services.NewExportService(screenshots))
	statsHandler := NewStatsHandler(stats)
	settingsHandler := NewSettingsHandler(services.NewSettingsService(db))
	healthHandler := NewHealthHandler(broadcaster, func() string { return "watching" })
	viewerHandler := NewViewerHandler(broadcaster, 16)

	app := fiber.New()
	app.Get("/health", healthHandler.Handle)
	api := app.Group("/api")
	api.Get("/screenshots/recent", shotHandler.Recent)
	api.Get("/screenshots/export", shotHandler.Export)
	api.Post("/screenshots", shotHandler.Create)
	api.Get("/search", shotHandler.Search)
	api.Get("/filters", shotHandler.Filters)
	api.Get("/stats/overview", statsHandler.Overview)
	api.Get("/stats/detailed", statsHandler.Detailed)
	api.Get("/settings", settingsHandler.Get)
	api.Post("/settings", settingsHandler.Update)
	app.Use("/ws", UpgradeCheck)
	app.Get("/ws", websocket.New(viewerHandler.Handle))

	return &testServer{app: app, screenshots: screenshots, broadcaster: broadcaster}
}

func (s *testServer) seed(t *testing.T, path, category, app string, age time.Duration) {
	t.Helper()
	_, err := s.screenshots.Upsert(context.Background(), path, models.ScreenshotAttrs{
		FileSize:  1000,
		Category:  models.StringPtr(category),
		AppName:   models.StringPtr(app),
		CreatedAt: time.Now().Add(-age),
	})
	if err != nil {
		t.Fatalf("Failed to seed %s: %v", path, err)
	}
}

func doJSON(t *testing.T, app *fiber.App, method, url string, body interface{}, out interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, url, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestHealthHandler(t *testing.T) {
	s := setupTestApp(t)

	var body map[string]interface{}
	status := doJSON(t, s.app, "GET", "/health", nil, &body)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", body["status"])
	}
	if body["connections"] != float64(0) {
		t.Errorf("Expected 0 connections, got %v", body["connections"])
	}
	if body["watcher"] != "watching" {
		t.Errorf("Expected watcher state 'watching', got %v", body["watcher"])
	}
}

func TestScreenshotHandler_Recent(t *testing.T) {
	s := setupTestApp(t)
	s.seed(t, "/shots/old.png", "Work", "Code", 2*time.Hour)
	s.seed(t, "/shots/new.png", "Work", "Code", time.Minute)

	var body struct {
		Screenshots []models.Screenshot `json:"screenshots"`
	}
	status := doJSON(t, s.app, "GET", "/api/screenshots/recent?limit=1", nil, &body)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if len(body.Screenshots) != 1 || body.Screenshots[0].FilePath != "/shots/new.png" {
		t.Errorf("Expected only /shots/new.png, got %+v", body.Screenshots)
	}

	if status := doJSON(t, s.app, "GET", "/api/screenshots/recent?limit=0", nil, nil); status != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 for limit=0, got %d", status)
	}
}

func TestScreenshotHandler_SearchAndFilters(t *testing.T) {
	s := setupTestApp(t)
	s.seed(t, "/shots/invoice.png", "Docs", "Acrobat", time.Hour)
	s.seed(t, "/shots/editor.png", "Work", "Code", time.Hour)
	s.seed(t, "/shots/ancient.png", "Work", "Code", 40*24*time.Hour)

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"by file name", "/api/search?query=invoice", 1},
		{"by category", "/api/search?category=Work", 2},
		{"by app within days", "/api/search?app=Code&days=7", 1},
		{"no filters", "/api/search", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body struct {
				Results []models.Screenshot `json:"results"`
			}
			if status := doJSON(t, s.app, "GET", tt.url, nil, &body); status != fiber.StatusOK {
				t.Fatalf("Expected status 200, got %d", status)
			}
			if len(body.Results) != tt.want {
				t.Errorf("Expected %d results, got %d", tt.want, len(body.Results))
			}
		})
	}

	var filters models.FilterOptions
	if status := doJSON(t, s.app, "GET", "/api/filters", nil, &filters); status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if len(filters.Categories) != 2 || filters.Categories[0] != "Docs" {
		t.Errorf("Unexpected categories: %v", filters.Categories)
	}
	if len(filters.Apps) != 2 || filters.Apps[0] != "Acrobat" {
		t.Errorf("Unexpected apps: %v", filters.Apps)
	}
}

func TestScreenshotHandler_Create(t *testing.T) {
	s := setupTestApp(t)

	path := filepath.Join(t.TempDir(), "manual.png")
	if err := os.WriteFile(path, []byte("png"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	var body struct {
		Success  bool            `json:"success"`
		Activity models.Activity `json:"activity"`
	}
	status := doJSON(t, s.app, "POST", "/api/screenshots", map[string]interface{}{
		"file_path": path,
		"category":  "Work",
	}, &body)
	if status != fiber.StatusCreated {
		t.Fatalf("Expected status 201, got %d", status)
	}
	if !body.Success || body.Activity.Details != "manual.png" {
		t.Errorf("Unexpected response: %+v", body)
	}

	shot, err := s.screenshots.GetByPath(context.Background(), path)
	if err != nil || shot == nil {
		t.Fatalf("Expected record for %s, err=%v", path, err)
	}
	if shot.Category == nil || *shot.Category != "Work" {
		t.Errorf("Expected category Work, got %v", shot.Category)
	}
}

func TestScreenshotHandler_CreateRejectsBadInput(t *testing.T) {
	s := setupTestApp(t)

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"missing path", map[string]string{}, fiber.StatusBadRequest},
		{"relative path", map[string]string{"file_path": "shots/a.png"}, fiber.StatusBadRequest},
		{"not an image", map[string]string{"file_path": "/shots/notes.txt"}, fiber.StatusBadRequest},
		{"missing file", map[string]string{"file_path": filepath.Join(t.TempDir(), "gone.png")}, fiber.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]interface{}
			if status := doJSON(t, s.app, "POST", "/api/screenshots", tt.body, &body); status != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, status)
			}
			if body["error"] == nil {
				t.Error("Expected error message in response")
			}
		})
	}
}

func TestScreenshotHandler_Export(t *testing.T) {
	s := setupTestApp(t)
	s.seed(t, "/shots/a.png", "Work", "Code", time.Minute)

	req := httptest.NewRequest("GET", "/api/screenshots/export", nil)
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Errorf("Unexpected content type %q", ct)
	}
	data, _ := io.ReadAll(resp.Body)
	// xlsx files are zip archives
	if len(data) < 2 || string(data[:2]) != "PK" {
		t.Error("Expected a zip payload")
	}
}

func TestStatsHandler(t *testing.T) {
	s := setupTestApp(t)
	s.seed(t, "/shots/a.png", "Work", "Code", time.Hour)
	s.seed(t, "/shots/b.png", "Docs", "Acrobat", time.Hour)

	var snap models.StatsSnapshot
	if status := doJSON(t, s.app, "GET", "/api/stats/overview", nil, &snap); status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if snap.TotalScreenshots != 2 || snap.Categories != 2 {
		t.Errorf("Unexpected snapshot: %+v", snap)
	}

	var detailed models.DetailedStats
	if status := doJSON(t, s.app, "GET", "/api/stats/detailed?days=7", nil, &detailed); status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if detailed.Days != 7 || len(detailed.Categories) != 2 {
		t.Errorf("Unexpected detailed stats: %+v", detailed)
	}

	if status := doJSON(t, s.app, "GET", "/api/stats/detailed?days=-1", nil, nil); status != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 for negative days, got %d", status)
	}
}

func TestSettingsHandler(t *testing.T) {
	s := setupTestApp(t)

	var result map[string]interface{}
	status := doJSON(t, s.app, "POST", "/api/settings", map[string]interface{}{
		"theme":    "dark",
		"pageSize": 25,
	}, &result)
	if status != fiber.StatusOK || result["success"] != true {
		t.Fatalf("Expected success, got %d %v", status, result)
	}

	var all map[string]interface{}
	if status := doJSON(t, s.app, "GET", "/api/settings", nil, &all); status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if all["theme"] != "dark" || all["pageSize"] != float64(25) {
		t.Errorf("Unexpected settings: %v", all)
	}

	req := httptest.NewRequest("POST", "/api/settings", bytes.NewBufferString("not json"))
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid body, got %d", resp.StatusCode)
	}
}

func TestViewerHandler_RejectsPlainHTTP(t *testing.T) {
	s := setupTestApp(t)

	resp, err := s.app.Test(httptest.NewRequest("GET", "/ws", nil))
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("Expected status 426, got %d", resp.StatusCode)
	}
}

func TestViewerHandler_SnapshotFirstThenEvents(t *testing.T) {
	s := setupTestApp(t)
	s.seed(t, "/shots/a.png", "Work", "Code", time.Hour)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	go s.app.Listener(ln)
	t.Cleanup(func() { s.app.Shutdown() })

	conn, resp, err := gws.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("Expected 101, got %d", resp.StatusCode)
	}

	readEvent := func() models.Event {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to read frame: %v", err)
		}
		ev, err := models.DecodeEvent(data)
		if err != nil {
			t.Fatalf("Failed to decode frame: %v", err)
		}
		return ev
	}

	baseline, ok := readEvent().(models.StatsUpdate)
	if !ok {
		t.Fatal("Expected stats_update as the first frame")
	}
	if baseline.Snapshot.TotalScreenshots != 1 {
		t.Errorf("Expected baseline total 1, got %d", baseline.Snapshot.TotalScreenshots)
	}

	s.seed(t, "/shots/b.png", "Work", "Code", time.Minute)
	err = s.broadcaster.NotifyNewScreenshot(context.Background(), models.Activity{
		ID:      "act-1",
		Type:    services.ActivityScreenshotProcessed,
		Details: "b.png",
	})
	if err != nil {
		t.Fatalf("NotifyNewScreenshot failed: %v", err)
	}

	notice, ok := readEvent().(models.NewScreenshot)
	if !ok || notice.Activity.Details != "b.png" {
		t.Fatalf("Expected new_screenshot for b.png, got %#v", notice)
	}
	update, ok := readEvent().(models.StatsUpdate)
	if !ok || update.Snapshot.TotalScreenshots != 2 {
		t.Fatalf("Expected stats_update with total 2, got %#v", update)
	}

	conn.Close()
	deadline := time.Now().Add(5 * time.Second)
	for s.broadcaster.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Viewer was not unregistered after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
