package arbiter

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/adred-codev/shardlock/internal/guard"
	"github.com/adred-codev/shardlock/internal/shardstore"
	"github.com/adred-codev/shardlock/internal/shardwire"
	"github.com/adred-codev/shardlock/internal/telemetry"
)

// Server accepts the Lock stream over HTTP/websocket upgrade and spawns
// one arbiter run per accepted session.
type Server struct {
	registry *shardstore.Registry
	opts     Options
	log      zerolog.Logger
	admit    *guard.Admitter

	activeSessions int64
	shuttingDown   int32
}

// NewServer wires a Registry, admission Guard config and run Options
// into an HTTP handler. The Admitter is constructed here so it can poll
// this server's own live session count.
func NewServer(reg *shardstore.Registry, admitCfg guard.Config, opts Options, log zerolog.Logger) *Server {
	s := &Server{registry: reg, opts: opts, log: log}
	s.admit = guard.NewAdmitter(admitCfg, s.ActiveSessions, log)
	return s
}

// Close stops the background admission-control sampler.
func (s *Server) Close() {
	s.admit.Close()
}

// ActiveSessions reports the number of sessions currently under
// arbitration, for metrics.
func (s *Server) ActiveSessions() int64 {
	return atomic.LoadInt64(&s.activeSessions)
}

// Shutdown marks the server as draining; new upgrade requests are
// rejected with 503 but in-flight sessions are left to finish naturally.
func (s *Server) Shutdown() {
	atomic.StoreInt32(&s.shuttingDown, 1)
}

// ServeHTTP upgrades the connection and runs the session's arbiter to
// completion on its own goroutine.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	clientIP := clientIP(r)
	if s.admit != nil {
		if ok, reason := s.admit.ShouldAccept(clientIP); !ok {
			s.log.Warn().Str("client_ip", clientIP).Str("reason", reason).Msg("arbiter: connection rejected by admission guard")
			http.Error(w, "server overloaded", http.StatusServiceUnavailable)
			return
		}
	}

	start := time.Now()
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Error().Err(err).Str("client_ip", clientIP).Dur("elapsed", time.Since(start)).Msg("arbiter: websocket upgrade failed")
		return
	}

	sess := shardwire.NewServerSession(conn)
	atomic.AddInt64(&s.activeSessions, 1)
	telemetry.SessionsActive.Inc()
	telemetry.SessionsTotal.Inc()
	s.log.Debug().Str("client_ip", clientIP).Msg("arbiter: session accepted")

	go func() {
		defer telemetry.RecoverPanic(s.log, "arbiter.Run", map[string]any{"client_ip": clientIP})
		defer telemetry.SessionsActive.Dec()
		defer atomic.AddInt64(&s.activeSessions, -1)
		defer sess.Close()
		Run(r.Context(), sess, s.registry, s.opts, s.log)
	}()
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
