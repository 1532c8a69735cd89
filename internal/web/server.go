package web

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"

	"github.com/theman001/KakaoWebTalk/internal/gateway"
	"github.com/theman001/KakaoWebTalk/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the browser-facing HTTP server: pages, static assets, the
// /ws event channel, /health, and /metrics.
type Server struct {
	ctx       context.Context // outlives individual requests; bounds ws client loops
	gw        *gateway.Gateway
	publicDir string
	metrics   http.Handler
}

// NewServer assembles the server. ctx bounds the lifetime of every browser
// connection (the upgrade handler returns long before the socket dies, so
// the request context cannot be used). metricsHandler may be nil to omit
// /metrics.
func NewServer(ctx context.Context, gw *gateway.Gateway, publicDir string, metricsHandler http.Handler) *Server {
	return &Server{
		ctx:       ctx,
		gw:        gw,
		publicDir: publicDir,
		metrics:   metricsHandler,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusFound)
	})
	mux.HandleFunc("/login", s.servePage("login.html"))
	mux.HandleFunc("/chat", s.servePage("index.html"))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	mux.Handle("/", http.FileServer(http.Dir(s.publicDir)))

	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	util.LogInfo("web server listening on %s", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) servePage(name string) http.HandlerFunc {
	page := filepath.Join(s.publicDir, name)
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, page)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "UP",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleWS upgrades the connection and hands it to a browser client loop.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := newBrowserClient(conn, s.gw)
	go client.run(s.ctx)
}
