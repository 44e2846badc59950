package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-portal/internal/portal/common/clock"
	"github.com/haukened/rr-portal/internal/portal/config"
	"github.com/haukened/rr-portal/internal/portal/domain"
	"github.com/haukened/rr-portal/internal/portal/repos/visitors"
)

const testLanding = "<html><body>Welcome</body></html>"

// writeSite creates an asset directory with a landing page, an image and a
// video of videoSize bytes.
func writeSite(t *testing.T, videoSize int) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(testLanding), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.jpg"), []byte("JPEGDATA"), 0644))

	video := make([]byte, videoSize)
	for i := range video {
		video[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video.mp4"), video, 0644))
	return dir
}

// freeTCPPort returns a port that was free a moment ago.
func freeTCPPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	c, err := net.ListenPacket("udp", ":0")
	require.NoError(t, err)
	port := c.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, c.Close())
	return port
}

// setTestEnv points the portal at dir and at unprivileged ports.
func setTestEnv(t *testing.T, dir string, dnsPort, httpPort int) {
	t.Helper()
	t.Setenv("PORTAL_LOG_LEVEL", "error")
	t.Setenv("PORTAL_HTTP_ASSETS", dir)
	t.Setenv("PORTAL_DNS_PORT", fmt.Sprintf("%d", dnsPort))
	t.Setenv("PORTAL_HTTP_PORT", fmt.Sprintf("%d", httpPort))
	t.Setenv("PORTAL_GATEWAY_IP", "10.0.0.1")
}

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions(nil)
	require.NoError(t, err)
	assert.Empty(t, opts.Config)
	assert.False(t, opts.Version)

	opts, err = parseOptions([]string{"-c", "/etc/rr-portal.yaml", "--version"})
	require.NoError(t, err)
	assert.Equal(t, "/etc/rr-portal.yaml", opts.Config)
	assert.True(t, opts.Version)

	_, err = parseOptions([]string{"--help"})
	require.Error(t, err)
	assert.True(t, flags.WroteHelp(err))

	_, err = parseOptions([]string{"--bogus"})
	require.Error(t, err)
	assert.False(t, flags.WroteHelp(err))
}

// TestBuildApplication_ConfigurationVariations tests different configurations
func TestBuildApplication_ConfigurationVariations(t *testing.T) {
	tests := []struct {
		name          string
		setupEnv      func(t *testing.T, dir string)
		wantErr       bool
		errorContains string
		wantTasks     int
	}{
		{
			name:      "defaults",
			setupEnv:  func(*testing.T, string) {},
			wantTasks: 2,
		},
		{
			name: "metrics enabled",
			setupEnv: func(t *testing.T, _ string) {
				t.Setenv("PORTAL_METRICS_PORT", "9100")
			},
			wantTasks: 3,
		},
		{
			name: "persistent visitors",
			setupEnv: func(t *testing.T, dir string) {
				t.Setenv("PORTAL_VISITORS_DB", filepath.Join(dir, "visitors.db"))
			},
			wantTasks: 2,
		},
		{
			name: "missing landing page",
			setupEnv: func(t *testing.T, _ string) {
				t.Setenv("PORTAL_HTTP_LANDING", "missing.html")
			},
			wantErr:       true,
			errorContains: "landing page unavailable",
		},
		{
			name: "visitor db in missing directory",
			setupEnv: func(t *testing.T, dir string) {
				t.Setenv("PORTAL_VISITORS_DB", filepath.Join(dir, "nope", "visitors.db"))
			},
			wantErr:       true,
			errorContains: "visitor store",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeSite(t, 16)
			setTestEnv(t, dir, 0, 0)
			tt.setupEnv(t, dir)

			cfg, err := config.Load("")
			require.NoError(t, err)

			app, err := buildApplication(cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { _ = app.visitors.Close() })

			assert.Len(t, app.tasks, tt.wantTasks)
			assert.Equal(t, "10.0.0.1", app.identity.GatewayIP.String())
			assert.Equal(t, "dns", app.tasks[0].Name())
			assert.Equal(t, "http", app.tasks[1].Name())
		})
	}
}

// TestBuildVisitors_ReopensStore tests that visitors stored by an earlier
// run are counted at startup and keep accumulating.
func TestBuildVisitors_ReopensStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "visitors.db")
	store, err := visitors.OpenStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Put(domain.Visitor{Addr: "10.0.0.23", DNSQueries: 4, LastName: "old.example."}))
	require.NoError(t, store.Close())

	dir := writeSite(t, 16)
	setTestEnv(t, dir, 0, 0)
	t.Setenv("PORTAL_VISITORS_DB", dbPath)
	cfg, err := config.Load("")
	require.NoError(t, err)

	registry, err := buildVisitors(cfg, clock.RealClock{})
	require.NoError(t, err)

	v, err := registry.Observe("10.0.0.23", domain.ActivityDNS, "new.example.")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v.DNSQueries)
	require.NoError(t, registry.Close())

	store, err = visitors.OpenStore(dbPath)
	require.NoError(t, err)
	defer store.Close()
	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// TestApplication_Integration tests the full application lifecycle
func TestApplication_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	dir := writeSite(t, 64)
	dnsPort, httpPort := freeUDPPort(t), freeTCPPort(t)
	setTestEnv(t, dir, dnsPort, httpPort)

	cfg, err := config.Load("")
	require.NoError(t, err)

	app, err := buildApplication(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appErr := make(chan error, 1)
	go func() {
		appErr <- app.Run(ctx)
	}()

	waitForHTTP(t, httpPort, appErr)

	cancel()
	select {
	case err := <-appErr:
		assert.NoError(t, err, "Application should shutdown gracefully")
	case <-time.After(5 * time.Second):
		t.Fatal("Application failed to shutdown within timeout")
	}
}

func TestApplication_PortInUse(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	busy, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer busy.Close()

	dir := writeSite(t, 16)
	setTestEnv(t, dir, freeUDPPort(t), busy.Addr().(*net.TCPAddr).Port)

	cfg, err := config.Load("")
	require.NoError(t, err)
	app, err := buildApplication(cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "http: listen")
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not fail on a busy port")
	}
}

// waitForHTTP blocks until the portal accepts TCP connections on port.
func waitForHTTP(t *testing.T, port int, appErr <-chan error) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("Server failed to start within timeout")
		case err := <-appErr:
			t.Fatalf("Server exited during startup: %v", err)
		default:
		}
		conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			require.NoError(t, conn.Close())
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
