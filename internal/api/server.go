package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"charge-controller/internal/charging"
	"charge-controller/internal/config"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	clientQueueSize = 8
	writeTimeout    = 5 * time.Second
)

type StatusProvider interface {
	GetStatus() map[string]interface{}
}

// Server expose l'état du contrôleur : /status en JSON, /ws en direct et
// /metrics pour Prometheus.
type Server struct {
	server   *http.Server
	upgrader websocket.Upgrader
	config   *config.Config
	logger   *logrus.Logger
	status   StatusProvider

	registry *prometheus.Registry
	metrics  *Metrics

	mutex   sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func NewServer(cfg *config.Config, logger *logrus.Logger, status StatusProvider) *Server {
	registry := prometheus.NewRegistry()

	return &Server{
		config:   cfg,
		logger:   logger,
		status:   status,
		registry: registry,
		metrics:  NewMetrics(registry),
		clients:  make(map[*websocket.Conn]chan []byte),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.handleWebSocket)
	router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return router
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting HTTP server on %s", addr)

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server...")
		s.server.Close()
		s.closeClients()
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Publish met à jour les métriques et diffuse l'état aux clients websocket.
// Appelé depuis la boucle de contrôle, ne bloque jamais.
func (s *Server) Publish(snapshot charging.Snapshot) {
	s.metrics.Update(snapshot)

	payload, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Errorf("Failed to encode snapshot: %v", err)
		return
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for conn, queue := range s.clients {
		select {
		case queue <- payload:
		default:
			s.logger.Debugf("Websocket client %s too slow, dropping update", conn.RemoteAddr())
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.status.GetStatus()); err != nil {
		s.logger.Errorf("Failed to write status: %v", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	queue := make(chan []byte, clientQueueSize)
	s.mutex.Lock()
	s.clients[conn] = queue
	s.mutex.Unlock()

	s.logger.Infof("Websocket client %s connected", conn.RemoteAddr())

	go s.writeLoop(conn, queue)

	// lecture uniquement pour détecter la fermeture
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.removeClient(conn)
	s.logger.Infof("Websocket client %s disconnected", conn.RemoteAddr())
}

func (s *Server) writeLoop(conn *websocket.Conn, queue chan []byte) {
	for payload := range queue {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.logger.Debugf("Write message error for %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if queue, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		close(queue)
	}
	conn.Close()
}

func (s *Server) closeClients() {
	s.mutex.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.mutex.Unlock()

	for _, conn := range conns {
		s.removeClient(conn)
	}
}

func (s *Server) ClientCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.clients)
}
