package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/rdiovox/internal/config"
	"github.com/MrWong99/rdiovox/internal/encode"
	"github.com/MrWong99/rdiovox/internal/monitor"
	"github.com/MrWong99/rdiovox/internal/vox"
	"github.com/MrWong99/rdiovox/pkg/audio"
	audiomock "github.com/MrWong99/rdiovox/pkg/audio/mock"
)

type nopEncoder struct{}

func (nopEncoder) Encode(_ context.Context, s *vox.Session) (*encode.Artifact, error) {
	return &encode.Artifact{
		Name:       "audio_" + s.ID + ".mp3",
		Data:       []byte("encoded"),
		Duration:   s.Duration(),
		RecordedAt: s.StartedAt,
	}, nil
}

type nopUploader struct{ probeErr error }

func (nopUploader) Upload(context.Context, *encode.Artifact) error { return nil }
func (u nopUploader) Probe(context.Context) error                  { return u.probeErr }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.URL = "http://scanner.local:3000"
	cfg.Server.APIKey = "test-key"
	return cfg
}

// testApp builds an App around mocks and registers shutdown on cleanup.
func testApp(t *testing.T, cfg *config.Config, host *audiomock.Host) *App {
	t.Helper()
	if host.OpenResult == nil {
		host.OpenResult = &audiomock.Source{}
	}
	if host.DevicesResult == nil {
		host.DevicesResult = []audio.DeviceInfo{{Index: 0, Name: "default", Channels: 1, SampleRate: 44100}}
	}

	a, err := New(cfg, &Providers{Host: host}, WithEncoder(nopEncoder{}), WithUploader(nopUploader{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func TestNew_RequiresTranscoderOrEncoder(t *testing.T) {
	host := &audiomock.Host{OpenResult: &audiomock.Source{}}
	_, err := New(testConfig(), &Providers{Host: host}, WithUploader(nopUploader{}))
	if err == nil {
		t.Fatal("New without transcoders or an injected encoder did not fail")
	}
}

func TestRoutes_Status(t *testing.T) {
	a := testApp(t, testConfig(), &audiomock.Host{})
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var st monitor.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Monitoring || st.Recording {
		t.Errorf("fresh app status = %+v, want all idle", st)
	}
}

func TestRoutes_Devices(t *testing.T) {
	host := &audiomock.Host{DevicesResult: []audio.DeviceInfo{
		{Index: 0, Name: "default", Channels: 2, SampleRate: 44100},
		{Index: 3, Name: "USB microphone", Channels: 1, SampleRate: 48000},
	}}
	a := testApp(t, testConfig(), host)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/api/devices")
	if err != nil {
		t.Fatalf("GET /api/devices: %v", err)
	}
	defer resp.Body.Close()

	var devices []audio.DeviceInfo
	if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(devices) != 2 || devices[1].Name != "USB microphone" {
		t.Errorf("devices = %+v", devices)
	}
}

func TestRoutes_DevicesErrorReturns500(t *testing.T) {
	host := &audiomock.Host{DevicesError: errors.New("host not initialized")}

	a, err := New(testConfig(), &Providers{Host: host}, WithEncoder(nopEncoder{}), WithUploader(nopUploader{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/api/devices")
	if err != nil {
		t.Fatalf("GET /api/devices: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error == "" {
		t.Error("error body is empty")
	}
}

func TestRoutes_Version(t *testing.T) {
	a := testApp(t, testConfig(), &audiomock.Host{})
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/api/version")
	if err != nil {
		t.Fatalf("GET /api/version: %v", err)
	}
	defer resp.Body.Close()

	var v versionResponse
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Name != "rdiovox" || v.Version != Version {
		t.Errorf("version = %+v", v)
	}
}

func TestRoutes_ControlStartStop(t *testing.T) {
	a := testApp(t, testConfig(), &audiomock.Host{})
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	post := func(body string) (int, controlResponse) {
		t.Helper()
		resp, err := srv.Client().Post(srv.URL+"/api/control", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST /api/control: %v", err)
		}
		defer resp.Body.Close()
		var cr controlResponse
		if resp.StatusCode == http.StatusOK {
			if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
				t.Fatalf("decode: %v", err)
			}
		}
		return resp.StatusCode, cr
	}

	status, cr := post(`{"action":"start"}`)
	if status != http.StatusOK {
		t.Fatalf("start status = %d, want 200", status)
	}
	if cr.State != "running" {
		t.Errorf("state after start = %q, want %q", cr.State, "running")
	}
	if got := a.Monitor().State(); got != monitor.StateRunning {
		t.Errorf("monitor state = %v, want running", got)
	}

	status, cr = post(`{"action":"stop"}`)
	if status != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", status)
	}
	if cr.State != "stopped" {
		t.Errorf("state after stop = %q, want %q", cr.State, "stopped")
	}
}

func TestRoutes_ControlRejectsBadRequests(t *testing.T) {
	a := testApp(t, testConfig(), &audiomock.Host{})
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	for _, body := range []string{`{"action":"restart"}`, `{not json`} {
		resp, err := srv.Client().Post(srv.URL+"/api/control", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST /api/control: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestRoutes_HealthAndMetrics(t *testing.T) {
	a := testApp(t, testConfig(), &audiomock.Host{})
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := srv.Client().Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestRoutes_ReadyzFailsWithoutUploadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Server.APIKey = ""
	a := testApp(t, cfg, &audiomock.Host{})
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestLive_StreamsStatusSnapshots(t *testing.T) {
	a := testApp(t, testConfig(), &audiomock.Host{})
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/live"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// The first snapshot arrives immediately, the second after a tick.
	for range 2 {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var st monitor.Status
		if err := json.Unmarshal(data, &st); err != nil {
			t.Fatalf("unmarshal %q: %v", data, err)
		}
		if st.Monitoring {
			t.Errorf("snapshot = %+v, want monitoring false", st)
		}
	}
}

func TestApplyConfigChange_HotFields(t *testing.T) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	host := &audiomock.Host{OpenResult: &audiomock.Source{}}
	a, err := New(testConfig(), &Providers{Host: host, LogLevel: level},
		WithEncoder(nopEncoder{}), WithUploader(nopUploader{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	old := testConfig()
	next := testConfig()
	next.Vox.Threshold = 0.3
	next.API.LogLevel = config.LogDebug

	a.applyConfigChange(old, next)

	if got := level.Level(); got != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", got)
	}
}

func TestRun_AutoStartAndCancel(t *testing.T) {
	cfg := testConfig()
	cfg.AutoStart = true
	cfg.API.ListenAddr = ""

	a := testApp(t, cfg, &audiomock.Host{})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for a.Monitor().State() != monitor.StateRunning {
		if time.Now().After(deadline) {
			t.Fatal("monitor never reached running state")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-runErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	host := &audiomock.Host{OpenResult: &audiomock.Source{}}
	a, err := New(testConfig(), &Providers{Host: host},
		WithEncoder(nopEncoder{}), WithUploader(nopUploader{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if host.CallCountClose != 1 {
		t.Errorf("host closed %d times, want 1", host.CallCountClose)
	}
}
