package pipe

import (
	"context"
	"errors"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/profpipe/internal/dispatch"
	"github.com/danmuck/profpipe/internal/protocol"
	"github.com/danmuck/profpipe/internal/protocol/directory"
	"github.com/danmuck/profpipe/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// HandlerFactory builds the handlers for one accepted connection.
type HandlerFactory func(connID string) []dispatch.Handler

// ServerConfig configures the pipe listener.
type ServerConfig struct {
	Network string
	Address string
	Session session.Config
	// Decoder turns counter directories into counter selections. Without
	// one, directories are only forwarded to handlers.
	Decoder directory.Decoder
	// Echo receives the hex dump of every packet when set.
	Echo io.Writer
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Network: "tcp",
		Address: "127.0.0.1:4242",
		Session: session.DefaultConfig(),
	}
}

// SessionInfo is the status view of one live connection.
type SessionInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	State       string    `json:"state"`
	ByteOrder   string    `json:"byte_order"`
	Version     string    `json:"version"`
	PID         uint32    `json:"pid"`
	Counters    int       `json:"counters"`
	Packets     uint64    `json:"packets"`
	Pending     int       `json:"pending_dispatch"`
	ConnectedAt time.Time `json:"connected_at"`
}

type serverSession struct {
	conn        *Conn
	neg         *session.Negotiator
	disp        *dispatch.Dispatcher
	connectedAt time.Time
	packets     atomic.Uint64
}

// Server accepts device connections and runs the pipe negotiation on each.
type Server struct {
	cfg     ServerConfig
	factory HandlerFactory

	mu       sync.Mutex
	sessions map[string]*serverSession
	active   atomic.Int64
}

func NewServer(cfg ServerConfig, factory HandlerFactory) *Server {
	def := DefaultServerConfig()
	if strings.TrimSpace(cfg.Network) == "" {
		cfg.Network = def.Network
	}
	if strings.TrimSpace(cfg.Address) == "" {
		cfg.Address = def.Address
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Server{
		cfg:      cfg,
		factory:  factory,
		sessions: make(map[string]*serverSession),
	}
}

// ListenAndServe binds the configured address and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen(s.cfg.Network, s.cfg.Address)
	if err != nil {
		return err
	}
	log.Info().
		Str("network", s.cfg.Network).
		Str("addr", ln.Addr().String()).
		Msg("pipe.server listening")
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on ln. It returns nil once ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAll()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, raw)
		}()
	}
}

// Sessions snapshots every live connection, oldest first.
func (s *Server) Sessions() []SessionInfo {
	s.mu.Lock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for id, ss := range s.sessions {
		meta := ss.conn.Metadata()
		out = append(out, SessionInfo{
			ID:          id,
			RemoteAddr:  ss.conn.RemoteAddr().String(),
			State:       ss.neg.State().String(),
			ByteOrder:   ss.conn.ByteOrder().String(),
			Version:     meta.Semver().String(),
			PID:         meta.PID,
			Counters:    len(ss.neg.CounterIDs()),
			Packets:     ss.packets.Load(),
			Pending:     ss.disp.Pending(),
			ConnectedAt: ss.connectedAt,
		})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

func (s *Server) handleConn(ctx context.Context, raw net.Conn) {
	conn := NewConn(raw, WithEcho(s.cfg.Echo), WithWriteTimeout(s.cfg.Session.WriteTimeout))
	defer conn.Close()
	neg := session.NewNegotiator(s.cfg.Session, s.cfg.Decoder)
	defer neg.Close()

	disp := dispatch.NewDispatcher(nil, dispatch.Config{Name: Variant, Timeout: s.cfg.Session.DispatchTimeout})
	if s.factory != nil {
		for _, h := range s.factory(conn.ID()) {
			h.SetConnection(conn)
			if err := disp.Registry().Register(h); err != nil {
				log.Warn().Str("conn", conn.ID()).Err(err).Msg("pipe.server register handler")
			}
		}
	}
	disp.Start()
	defer disp.Stop()

	ss := &serverSession{conn: conn, neg: neg, disp: disp, connectedAt: time.Now()}
	s.track(ss)
	defer s.untrack(conn.ID())

	remote := raw.RemoteAddr().String()
	active := s.active.Add(1)
	log.Info().Str("conn", conn.ID()).Str("remote", remote).Int64("active", active).Msg("pipe.server client connected")
	defer func() {
		remaining := s.active.Add(-1)
		log.Info().Str("conn", conn.ID()).Str("remote", remote).Int64("active", remaining).Msg("pipe.server client disconnected")
	}()

	hctx, cancel := context.WithTimeout(ctx, s.cfg.Session.HandshakeTimeout)
	err := conn.WaitForStreamMetadata(hctx)
	cancel()
	if err != nil {
		log.Warn().Str("conn", conn.ID()).Err(err).Msg("pipe.server handshake failed")
		return
	}
	ack, err := neg.AcceptStreamMetadata(conn.ByteOrder(), conn.Metadata())
	if err != nil {
		log.Warn().Str("conn", conn.ID()).Err(err).Msg("pipe.server stream metadata rejected")
		return
	}
	if err := conn.Send(ack); err != nil {
		log.Warn().Str("conn", conn.ID()).Err(err).Msg("pipe.server write connection ack")
		return
	}

	for ctx.Err() == nil {
		p, err := conn.WaitForPacket(s.cfg.Session.PollTimeout)
		if err != nil {
			if protocol.IsRetryable(err) {
				continue
			}
			if errors.Is(err, protocol.ErrRemoteClosed) || ctx.Err() != nil {
				log.Debug().Str("conn", conn.ID()).Msg("pipe.server remote closed")
			} else {
				log.Warn().Str("conn", conn.ID()).Err(err).Msg("pipe.server receive")
			}
			return
		}
		ss.packets.Add(1)
		if session.Classify(p.Header) == session.ActivityCounterDirectory {
			if !s.selectCounters(ctx, conn, neg, p) {
				return
			}
		}
		disp.Enqueue(p)
	}
}

// selectCounters answers a counter directory. It reports false when the
// connection has to end.
func (s *Server) selectCounters(ctx context.Context, conn *Conn, neg *session.Negotiator, p protocol.Packet) bool {
	sel, err := neg.AcceptCounterDirectory(ctx, p)
	switch {
	case errors.Is(err, directory.ErrNoDecoder):
		log.Debug().Str("conn", conn.ID()).Msg("pipe.server no decoder; counter selection skipped")
		return true
	case err != nil:
		log.Warn().Str("conn", conn.ID()).Err(err).Msg("pipe.server counter directory")
		return false
	}
	if err := conn.Send(sel); err != nil {
		log.Warn().Str("conn", conn.ID()).Err(err).Msg("pipe.server write counter selection")
		return false
	}
	return true
}

func (s *Server) track(ss *serverSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[ss.conn.ID()] = ss
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.sessions))
	for _, ss := range s.sessions {
		conns = append(conns, ss.conn)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}
