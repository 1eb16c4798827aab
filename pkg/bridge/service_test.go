package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vkbridge/pkg/config"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func freePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}

func TestNewServiceValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewService(nil, []Unit{NewUnit("relay", nil)}, nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := NewService(&config.Config{}, nil, nil); err == nil {
		t.Fatal("expected error for no units")
	}
}

func TestIsReady(t *testing.T) {
	t.Parallel()

	svc := &Service{unitStates: map[string]unitState{
		"relay":    {Running: true},
		"dispatch": {Running: false},
	}}
	if svc.isReady() {
		t.Fatal("expected not ready with a stopped unit")
	}

	svc.unitStates["dispatch"] = unitState{Running: true}
	if !svc.isReady() {
		t.Fatal("expected ready with all units running")
	}
}

func TestReadyEndpointReflectsUnitStates(t *testing.T) {
	t.Parallel()

	svc := &Service{
		cfg:        &config.Config{},
		log:        discardLogger(),
		startedAt:  time.Now().UTC(),
		unitStates: map[string]unitState{"relay": {Running: true}, "dispatch": {Running: true}},
	}

	recorder := httptest.NewRecorder()
	svc.handleReady(recorder, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}

	var status statusResponse
	if err := json.NewDecoder(recorder.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Status != "ready" || len(status.Units) != 2 {
		t.Fatalf("status = %+v", status)
	}

	svc.setUnitState("dispatch", unitState{Running: false, Error: "stream closed"})
	recorder = httptest.NewRecorder()
	svc.handleReady(recorder, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 with a dead unit", recorder.Code)
	}
}

func TestRunReturnsFirstUnitFailure(t *testing.T) {
	t.Parallel()

	failure := errors.New("broker gone")
	units := []Unit{
		NewUnit("relay", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
		NewUnit("dispatch", func(ctx context.Context) error {
			return failure
		}),
	}

	svc, err := NewService(&config.Config{Bridge: config.BridgeConfig{Host: "127.0.0.1", Port: freePort(t)}}, units, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = svc.Run(ctx)
	require.ErrorIs(t, err, failure)
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	t.Parallel()

	units := []Unit{NewUnit("relay", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})}

	svc, err := NewService(&config.Config{Bridge: config.BridgeConfig{Host: "127.0.0.1", Port: freePort(t)}}, units, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	require.NoError(t, svc.Run(ctx))
}
