// Package bridge supervises the two halves of the bridge and exposes a
// small status server for liveness probes.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"vkbridge/pkg/config"
)

const (
	defaultHealthHost = "0.0.0.0"
	defaultHealthPort = 18790
)

// Unit is one long-running half of the bridge, the relay or the dispatcher.
// Run blocks until the context is cancelled or the unit fails.
type Unit interface {
	Name() string
	Run(ctx context.Context) error
}

// Service runs every unit and stops the whole bridge on the first fatal
// unit failure.
type Service struct {
	cfg   *config.Config
	log   *slog.Logger
	units []Unit

	mu         sync.RWMutex
	startedAt  time.Time
	unitStates map[string]unitState
}

type unitState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status        string               `json:"status"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Units         map[string]unitState `json:"units"`
}

func NewService(cfg *config.Config, units []Unit, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if len(units) == 0 {
		return nil, errors.New("at least one bridge unit is required")
	}
	if log == nil {
		log = slog.Default()
	}

	unitStates := make(map[string]unitState, len(units))
	for _, unit := range units {
		unitStates[unit.Name()] = unitState{}
	}

	return &Service{
		cfg:        cfg,
		log:        log.With("component", "bridge.service"),
		units:      units,
		unitStates: unitStates,
	}, nil
}

// Run starts the status server and every unit, then blocks until the context
// is cancelled or a unit fails.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	serverErrors := make(chan error, 1)
	go s.runStatusServer(ctx, serverErrors)

	errCh := make(chan error, len(s.units))
	for _, unit := range s.units {
		unit := unit
		s.setUnitState(unit.Name(), unitState{Running: true})

		go func() {
			err := unit.Run(ctx)
			s.setUnitState(unit.Name(), unitState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s: %w", unit.Name(), err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErrors:
		return err
	case err := <-errCh:
		return err
	}
}

func (s *Service) runStatusServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Bridge.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Bridge.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	addr := host + ":" + strconv.Itoa(port)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Bridge status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	units := make(map[string]unitState, len(s.unitStates))
	for name, state := range s.unitStates {
		units[name] = state
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		Units:         units,
	}
}

// isReady requires every unit to be running. A bridge with only one
// direction alive delivers silently incomplete service.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.unitStates) == 0 {
		return false
	}
	for _, state := range s.unitStates {
		if !state.Running {
			return false
		}
	}
	return true
}

func (s *Service) setUnitState(name string, state unitState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unitStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
