package sinkhole

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"

	"golang.org/x/net/dns/dnsmessage"

	"github.com/haukened/focusflow/internal/focus/common/log"
)

// Options configures a Server.
type Options struct {
	Addr     string
	Rules    Decider
	Upstream Upstream
	// BlockIPv4 answers A queries for blocked names. BlockIPv6 answers
	// AAAA queries; when it is the zero Addr those get no data.
	BlockIPv4 netip.Addr
	BlockIPv6 netip.Addr
	TTL       uint32
	Logger    log.Logger
}

// Server is a UDP DNS listener that answers blocked names with the
// sinkhole address and relays everything else upstream.
type Server struct {
	addr     string
	rules    Decider
	upstream Upstream
	ipv4     netip.Addr
	ipv6     netip.Addr
	ttl      uint32
	logger   log.Logger

	mu      sync.RWMutex
	conn    *net.UDPConn
	running bool
	stopCh  chan struct{}
}

// NewServer returns a stopped Server.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Server{
		addr:     opts.Addr,
		rules:    opts.Rules,
		upstream: opts.Upstream,
		ipv4:     opts.BlockIPv4,
		ipv6:     opts.BlockIPv6,
		ttl:      opts.TTL,
		logger:   opts.Logger,
	}
}

// Start binds the UDP socket and begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sinkhole already running")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", s.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to bind UDP socket on %s: %w", s.addr, err)
	}

	s.conn = conn
	s.running = true
	s.stopCh = make(chan struct{})

	s.logger.Info(map[string]any{
		"address": conn.LocalAddr().String(),
	}, "DNS sinkhole started")

	go s.listenLoop(ctx, conn, s.stopCh)
	return nil
}

// Stop closes the socket. It is safe to call on a stopped server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	close(s.stopCh)
	s.running = false

	err := s.conn.Close()
	if err != nil {
		s.logger.Warn(map[string]any{"error": err.Error()}, "Error closing UDP connection")
	}
	s.logger.Info(map[string]any{"address": s.addr}, "DNS sinkhole stopped")
	return err
}

// Address returns the bound address once started, otherwise the
// configured one.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.running {
		return s.conn.LocalAddr().String()
	}
	return s.addr
}

func (s *Server) listenLoop(ctx context.Context, conn *net.UDPConn, stop <-chan struct{}) {
	buffer := make([]byte, maxPacketSize)

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug(nil, "sinkhole stopping due to context cancellation")
			return
		case <-stop:
			return
		default:
			n, client, err := conn.ReadFromUDP(buffer)
			if err != nil {
				s.mu.RLock()
				running := s.running
				s.mu.RUnlock()
				if !running {
					return
				}
				s.logger.Warn(map[string]any{"error": err.Error()}, "Failed to read UDP packet")
				continue
			}
			packet := make([]byte, n)
			copy(packet, buffer[:n])
			go s.handlePacket(ctx, conn, packet, client)
		}
	}
}

func (s *Server) handlePacket(ctx context.Context, conn *net.UDPConn, data []byte, client *net.UDPAddr) {
	hdr, q, err := decodeQuery(data)
	if err != nil {
		s.logger.Debug(map[string]any{
			"client": client.String(),
			"size":   len(data),
			"error":  err.Error(),
		}, "dropping malformed DNS packet")
		return
	}

	name := strings.TrimSuffix(q.Name.String(), ".")
	var reply []byte
	if decision := s.rules.Decide(name); decision.IsBlocked() {
		s.logger.Debug(map[string]any{
			"name":    name,
			"type":    q.Type.String(),
			"matched": decision.MatchedDomain,
			"rule_id": decision.RuleID,
		}, "query sinkholed")
		reply, err = encodeSinkhole(hdr, q, s.ipv4, s.ipv6, s.ttl)
	} else {
		reply, err = s.upstream.Forward(ctx, data)
		if err != nil {
			s.logger.Warn(map[string]any{
				"name":  name,
				"error": err.Error(),
			}, "upstream forward failed")
			reply, err = encodeServfail(hdr, q)
		}
	}
	if err != nil {
		s.logger.Error(map[string]any{
			"name":  name,
			"error": err.Error(),
		}, "Failed to encode DNS response")
		return
	}

	if _, err := conn.WriteToUDP(reply, client); err != nil {
		s.logger.Error(map[string]any{
			"client": client.String(),
			"error":  err.Error(),
		}, "Failed to send DNS response")
		return
	}
	s.logger.Debug(map[string]any{
		"client": client.String(),
		"name":   name,
		"rcode":  rcodeOf(reply).String(),
		"size":   len(reply),
	}, "Sent DNS response")
}

// rcodeOf reads the response code of a reply packet.
func rcodeOf(reply []byte) dnsmessage.RCode {
	var p dnsmessage.Parser
	hdr, err := p.Start(reply)
	if err != nil {
		return dnsmessage.RCodeFormatError
	}
	return hdr.RCode
}
