package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Server is the hub side of the bridge. It accepts any number of console
// connections, fans every event out to all of them, and hands commands to
// the callback given to Serve.
type Server struct {
	ln     net.Listener
	logger *slog.Logger
	conns  sync.Map // remote addr -> *consoleConn
}

type consoleConn struct {
	mu   sync.Mutex
	conn net.Conn
}

// Listen binds the bridge TCP listener.
func Listen(addr string, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bridge: listen %s: %w", addr, err)
	}
	return &Server{ln: ln, logger: logger}, nil
}

// Addr returns the listening address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve accepts consoles until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, onCommand func(Command)) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
		s.CloseAll()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("bridge: accept failed", slog.String("error", err.Error()))
			continue
		}

		key := conn.RemoteAddr().String()
		s.conns.Store(key, &consoleConn{conn: conn})
		s.logger.Info("bridge: console attached", slog.String("remote", key))

		go func() {
			defer func() {
				s.conns.Delete(key)
				conn.Close()
				s.logger.Info("bridge: console detached", slog.String("remote", key))
			}()
			err := ScanLines(ctx, conn, func(c Command) error {
				onCommand(c)
				return nil
			}, func(line string, err error) {
				s.logger.Warn("bridge: bad command line", slog.String("line", line), slog.String("error", err.Error()))
			})
			if err != nil && ctx.Err() == nil {
				s.logger.Debug("bridge: console read ended", slog.String("remote", key), slog.String("error", err.Error()))
			}
		}()
	}
}

// Emit writes ev to every attached console. A console that cannot take the
// line within a second is dropped.
func (s *Server) Emit(ev Event) {
	s.conns.Range(func(key, value any) bool {
		cc := value.(*consoleConn)
		cc.mu.Lock()
		_ = cc.conn.SetWriteDeadline(time.Now().Add(time.Second))
		err := WriteLine(cc.conn, ev)
		cc.mu.Unlock()
		if err != nil {
			s.logger.Warn("bridge: dropping console", slog.Any("remote", key), slog.String("error", err.Error()))
			s.conns.Delete(key)
			cc.conn.Close()
		}
		return true
	})
}

// Consoles returns the number of attached consoles.
func (s *Server) Consoles() int {
	n := 0
	s.conns.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// CloseAll disconnects every console.
func (s *Server) CloseAll() {
	s.conns.Range(func(key, value any) bool {
		value.(*consoleConn).conn.Close()
		s.conns.Delete(key)
		return true
	})
}
