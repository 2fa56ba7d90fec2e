package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/meedsr07/storechat/pkg/auth"
	"github.com/meedsr07/storechat/pkg/database"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

// Server wires the registry, presence, relay and deletion paths to HTTP
type Server struct {
	db        *database.DB
	config    ServerConfig
	verifier  *auth.Verifier
	registry  *Registry
	presence  *PresenceBroadcaster
	relay     *Relay
	deletions *DeletionNotifier
	metrics   *Metrics
	mirror    *RedisPresenceMirror

	nextSessionID atomic.Uint64

	httpServer    *http.Server
	metricsServer *http.Server
	listener      net.Listener
	wg            sync.WaitGroup

	// Connection handlers; Stop waits for them before closing the database
	sessionsMu sync.Mutex
	stopping   bool
	sessions   sync.WaitGroup
}

// ServerConfig holds server configuration
type ServerConfig struct {
	HTTPPort    int // Public port for REST and /ws (0 = pick a free port)
	MetricsPort int // Internal /metrics and /health (0 = disabled)

	JWTSecret string
	TokenTTL  time.Duration

	MaxMessageLength int // characters, 0 = unlimited
	SendQueueSize    int // outbound frames buffered per connection
	WriteTimeout     time.Duration
	HistoryLimit     int

	// Presence mirror (disabled when RedisAddr is empty)
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	PresenceKey     string
	PresenceChannel string
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:         8080,
		MetricsPort:      9090,
		TokenTTL:         24 * time.Hour,
		MaxMessageLength: 2000,
		SendQueueSize:    64,
		WriteTimeout:     10 * time.Second,
		HistoryLimit:     200,
		PresenceKey:      "storechat:online",
		PresenceChannel:  "storechat:presence",
	}
}

// userDirectory lets the verifier re-resolve principals against the user table
type userDirectory struct {
	db *database.DB
}

func (d userDirectory) Principal(id int64) (auth.Principal, error) {
	u, err := d.db.GetUserByID(id)
	if errors.Is(err, database.ErrUserNotFound) {
		return auth.Principal{}, auth.ErrUnknownPrincipal
	}
	if err != nil {
		return auth.Principal{}, err
	}
	return auth.Principal{ID: u.ID, DisplayName: u.DisplayName, Handle: u.Username}, nil
}

// NewServer creates a new server instance on an open database
func NewServer(db *database.DB, config ServerConfig) (*Server, error) {
	if config.JWTSecret == "" {
		return nil, errors.New("jwt secret is required")
	}

	verifier := auth.NewVerifier(config.JWTSecret, config.TokenTTL)
	verifier.SetDirectory(userDirectory{db: db})

	metrics := NewMetrics()

	registry := NewRegistry()
	registry.SetMetrics(metrics)

	presence := NewPresenceBroadcaster(registry)
	presence.SetMetrics(metrics)

	relay := NewRelay(db, registry, config.MaxMessageLength)
	relay.SetMetrics(metrics)

	deletions := NewDeletionNotifier(db, registry)
	deletions.SetMetrics(metrics)

	return &Server{
		db:        db,
		config:    config,
		verifier:  verifier,
		registry:  registry,
		presence:  presence,
		relay:     relay,
		deletions: deletions,
		metrics:   metrics,
	}, nil
}

// Verifier returns the token verifier, used to issue tokens out of band
func (s *Server) Verifier() *auth.Verifier {
	return s.verifier
}

// Registry returns the connection registry
func (s *Server) Registry() *Registry {
	return s.registry
}

// GetServerDataDir returns the server data directory, creating it if needed
func GetServerDataDir() (string, error) {
	var dataDir string
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		dataDir = filepath.Join(xdg, "storechat")
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share", "storechat")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	return dataDir, nil
}

// InitLoggers sets up error and debug loggers in dataDir
func InitLoggers(dataDir string, debug bool) error {
	// Error log goes to stderr and errors.log
	errorFile, err := os.OpenFile(filepath.Join(dataDir, "errors.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}

	// Startup marker to distinguish runs
	if _, err := fmt.Fprintf(errorFile, "=== Server started at %s ===\n", time.Now().Format(time.RFC3339)); err != nil {
		return err
	}
	errorLog = log.New(io.MultiWriter(os.Stderr, errorFile), "ERROR: ", log.LstdFlags)

	if debug {
		debugFile, err := os.OpenFile(filepath.Join(dataDir, "debug.log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
		if err != nil {
			return err
		}
		debugLog = log.New(debugFile, "DEBUG: ", log.LstdFlags)
		debugLog.Println("Debug logging enabled")
	} else {
		debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
	}

	// Standard log (lifecycle messages) goes to stdout and server.log, truncated per run
	serverLogFile, err := os.OpenFile(filepath.Join(dataDir, "server.log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, serverLogFile))

	return nil
}

// Start opens the listeners and serves until Stop is called
func (s *Server) Start() error {
	if s.config.RedisAddr != "" {
		mirror, err := DialRedisPresenceMirror(s.config.RedisAddr, s.config.RedisPassword, s.config.RedisDB,
			s.config.PresenceKey, s.config.PresenceChannel)
		if err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", s.config.RedisAddr, err)
		}
		mirror.Start()
		s.mirror = mirror
		s.presence.SetSink(mirror)
		log.Printf("Mirroring presence to redis %s (key %s)", s.config.RedisAddr, s.config.PresenceKey)
	}

	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("HTTP server listening on %s (REST, /ws)", listener.Addr())
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Printf("HTTP server error: %v", err)
		}
	}()

	// Metrics server is internal only - never expose publicly
	if s.config.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", s.metrics.Handler())
		metricsMux.HandleFunc("/health", s.HealthHandler)
		s.metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", s.config.MetricsPort),
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			log.Printf("Metrics server listening on %s (/metrics, /health) - INTERNAL ONLY", s.metricsServer.Addr)
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errorLog.Printf("Metrics server error: %v", err)
			}
		}()
	}

	return nil
}

// Addr returns the address the HTTP server is bound to
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HealthHandler reports liveness and the number of registered connections
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","online":%d}`, s.registry.Count())
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	log.Println("Graceful shutdown initiated...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop accepting new connections; hijacked WebSocket connections are untouched
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errorLog.Printf("HTTP shutdown error: %v", err)
		}
	}

	s.sessionsMu.Lock()
	s.stopping = true
	s.sessionsMu.Unlock()

	log.Printf("Closing %d client connections...", s.registry.Count())
	s.closeAllSessions()
	s.sessions.Wait()

	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			errorLog.Printf("Metrics shutdown error: %v", err)
		}
	}

	s.wg.Wait()

	if s.mirror != nil {
		if err := s.mirror.Close(); err != nil {
			errorLog.Printf("Presence mirror close error: %v", err)
		}
	}

	if err := s.db.Close(); err != nil {
		log.Printf("Error during database close: %v", err)
		return err
	}

	log.Println("Graceful shutdown complete")
	return nil
}

// beginSession admits a connection handler unless the server is stopping
func (s *Server) beginSession() bool {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if s.stopping {
		return false
	}
	s.sessions.Add(1)
	return true
}

func (s *Server) isStopping() bool {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	return s.stopping
}

// closeAllSessions sends a going-away close frame to every connection
func (s *Server) closeAllSessions() {
	_, entries := s.registry.Snapshot()
	for _, e := range entries {
		if sess, ok := e.conn.(*Session); ok {
			sess.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
		}
	}
	s.registry.CloseAll()
}
