package sentinel

import (
	"context"
	"io"
	"net"
	"strings"

	"github.com/casparianflow/sentinel/internal/protocol"
)

// outboundFrame is a queued write for a connection's dedicated writer
// goroutine, keeping socket writes single-threaded per connection the way
// spec §5 requires ("handlers mutate via channel messages, not direct
// access").
type outboundFrame struct {
	opcode  protocol.Opcode
	jobID   uint64
	payload any
}

// Server is the Wire Protocol transport: a TCP listener that frames and
// unframes messages via internal/protocol and routes them into the
// Dispatcher. Grounded on the other_examples Dispatcher's
// "I/O thread owns the socket, handlers run in a bounded pool" split from
// spec §5, adapted from a single in-process loop to a real multi-connection
// TCP server.
type Server struct {
	d *Dispatcher
}

// NewServer builds a transport Server over an existing Dispatcher.
func NewServer(d *Dispatcher) *Server {
	return &Server{d: d}
}

// ListenAndServe accepts worker connections on addr (a "tcp://host:port"
// URL, per spec §6.1's bind address convention) until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	network, laddr := splitTransportAddr(addr)
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, network, laddr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.d.log.Warn("accept failed", "error", err)
				continue
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func splitTransportAddr(addr string) (network, laddr string) {
	if i := strings.Index(addr, "://"); i >= 0 {
		return "tcp", addr[i+3:]
	}
	return "tcp", addr
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	send := make(chan outboundFrame, 16)
	go s.writePump(connCtx, conn, send)

	var workerID string
	defer func() {
		if workerID != "" {
			s.d.log.Info("worker disconnected", "worker_id", workerID)
			s.d.workers.Unregister(workerID)
			if err := s.d.store.DeleteWorkerNode(context.Background(), workerID); err != nil {
				s.d.log.Error("failed to delete worker node mirror on disconnect", "worker_id", workerID, "error", err)
			}
			s.d.Wake()
		}
	}()

	for {
		frame, err := s.d.codec.ReadFrame(conn)
		if err != nil {
			if err != io.EOF {
				s.d.log.Warn("read frame failed, closing connection", "error", err)
				if b, eerr := s.d.codec.Encode(protocol.OpErr, 0, protocol.ErrPayload{Message: err.Error()}); eerr == nil {
					_, _ = conn.Write(b)
				}
			}
			return
		}
		if frame.Header.Opcode == protocol.OpIdentify {
			id, herr := s.handleIdentify(connCtx, conn.RemoteAddr().String(), frame, send)
			if herr != nil {
				s.d.log.Error("identify failed", "error", herr)
				return
			}
			workerID = id
			continue
		}
		if workerID == "" {
			s.d.log.Warn("frame received before IDENTIFY, dropping", "opcode", frame.Header.Opcode.Name())
			continue
		}
		s.d.workers.Touch(workerID)
		if err := s.d.store.TouchWorkerHeartbeat(connCtx, workerID); err != nil {
			s.d.log.Warn("heartbeat mirror update failed", "worker_id", workerID, "error", err)
		}
		s.route(connCtx, workerID, frame)
	}
}

// route dispatches one inbound frame to its handler under the bounded
// handler-pool semaphore (spec §5). Handling stays synchronous within a
// connection's read loop so transport-order is preserved per worker
// session; the semaphore bounds how many connections' handlers may run
// concurrently across the whole Sentinel.
func (s *Server) route(ctx context.Context, workerID string, frame protocol.Frame) {
	if err := s.d.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.d.sem.Release(1)

	switch frame.Header.Opcode {
	case protocol.OpHeartbeat:
		s.handleHeartbeat(ctx, workerID, frame)
	case protocol.OpConclude:
		s.handleConclude(ctx, workerID, frame)
	case protocol.OpErr:
		s.handleErr(ctx, workerID, frame)
	case protocol.OpEnvReady:
		s.handleEnvReady(ctx, workerID, frame)
	default:
		s.d.log.Warn("unexpected opcode from worker", "opcode", frame.Header.Opcode.Name(), "worker_id", workerID)
	}
}

func (s *Server) writePump(ctx context.Context, conn net.Conn, send <-chan outboundFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-send:
			if !ok {
				return
			}
			if err := s.d.codec.WriteFrame(conn, f.opcode, f.jobID, f.payload); err != nil {
				s.d.log.Warn("write frame failed", "opcode", f.opcode.Name(), "error", err)
				return
			}
		}
	}
}
