// Package ingest receives attack events from edge sensors over DTLS.
// Sensors emit one JSON-encoded event per datagram.
package ingest

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/dtls/v2"

	"threat-sentinel/internal/correlation"
	"threat-sentinel/internal/schema"
)

// ErrCertRequired is returned when the server is configured without a
// certificate pair.
var ErrCertRequired = errors.New("DTLS requires certificate and key")

// DTLSServerConfig holds configuration for the sensor listener.
type DTLSServerConfig struct {
	// Address to listen on (e.g. ":4433").
	Address string

	CertFile string
	KeyFile  string

	// Workers for event processing.
	Workers int

	// MaxMessageSize is the maximum datagram size.
	MaxMessageSize int

	// ConnectionTimeout bounds the DTLS handshake.
	ConnectionTimeout time.Duration

	// IdleTimeout closes silent sensor connections.
	IdleTimeout time.Duration
}

// DefaultDTLSServerConfig returns default listener configuration.
func DefaultDTLSServerConfig() DTLSServerConfig {
	return DTLSServerConfig{
		Address:           ":4433",
		Workers:           4,
		MaxMessageSize:    64 * 1024,
		ConnectionTimeout: 30 * time.Second,
		IdleTimeout:       5 * time.Minute,
	}
}

// DTLSServerMetrics holds listener metrics.
type DTLSServerMetrics struct {
	Connections uint64 `json:"connections"`
	Received    uint64 `json:"received"`
	Ingested    uint64 `json:"ingested"`
	Rejected    uint64 `json:"rejected"`
}

// DTLSServer accepts sensor connections and feeds validated events into the
// correlation engine.
type DTLSServer struct {
	config    DTLSServerConfig
	engine    *correlation.Engine
	validator *schema.Validator
	listener  net.Listener

	wg   sync.WaitGroup
	done chan struct{}

	connections atomic.Uint64
	received    atomic.Uint64
	ingested    atomic.Uint64
	rejected    atomic.Uint64
}

// NewDTLSServer creates a sensor listener feeding the given engine.
func NewDTLSServer(cfg DTLSServerConfig, engine *correlation.Engine) (*DTLSServer, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, ErrCertRequired
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultDTLSServerConfig().Workers
	}
	return &DTLSServer{
		config:    cfg,
		engine:    engine,
		validator: schema.NewValidator(),
		done:      make(chan struct{}),
	}, nil
}

// Start loads the certificate, binds the listener, and begins accepting
// sensor connections.
func (s *DTLSServer) Start(ctx context.Context) error {
	cert, err := tls.LoadX509KeyPair(s.config.CertFile, s.config.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load DTLS certificate: %w", err)
	}

	dtlsConfig := &dtls.Config{
		Certificates:         []tls.Certificate{cert},
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(ctx, s.config.ConnectionTimeout)
		},
	}

	addr, err := net.ResolveUDPAddr("udp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve address: %w", err)
	}

	listener, err := dtls.Listen("udp", addr, dtlsConfig)
	if err != nil {
		return fmt.Errorf("failed to start DTLS listener: %w", err)
	}
	s.listener = listener

	slog.Info("DTLS sensor listener started", "address", s.config.Address)

	datagrams := make(chan []byte, s.config.Workers*100)
	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(datagrams)
	}

	s.wg.Add(1)
	go s.acceptLoop(ctx, datagrams)
	return nil
}

func (s *DTLSServer) acceptLoop(ctx context.Context, datagrams chan<- []byte) {
	defer s.wg.Done()
	defer close(datagrams)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		if dl, ok := s.listener.(interface{ SetDeadline(time.Time) error }); ok {
			dl.SetDeadline(time.Now().Add(100 * time.Millisecond))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.done:
				return
			default:
				slog.Debug("DTLS accept error", "error", err)
				continue
			}
		}

		s.connections.Add(1)
		s.wg.Add(1)
		go s.handleConnection(ctx, conn, datagrams)
	}
}

func (s *DTLSServer) handleConnection(ctx context.Context, conn net.Conn, datagrams chan<- []byte) {
	defer s.wg.Done()
	defer conn.Close()

	buffer := make([]byte, s.config.MaxMessageSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		n, err := conn.Read(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				slog.Debug("sensor connection idle timeout", "remote", conn.RemoteAddr())
			}
			return
		}

		s.received.Add(1)
		data := make([]byte, n)
		copy(data, buffer[:n])

		select {
		case datagrams <- data:
		default:
			s.rejected.Add(1)
			slog.Debug("datagram channel full, dropping event")
		}
	}
}

func (s *DTLSServer) worker(datagrams <-chan []byte) {
	defer s.wg.Done()
	for data := range datagrams {
		s.processDatagram(data)
	}
}

// processDatagram decodes, validates, and ingests one sensor payload.
func (s *DTLSServer) processDatagram(data []byte) {
	var event schema.AttackEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.rejected.Add(1)
		slog.Debug("dropping undecodable sensor event", "error", err)
		return
	}
	if err := s.validator.Validate(&event); err != nil {
		s.rejected.Add(1)
		slog.Debug("dropping invalid sensor event", "error", err, "ip", event.IPAddress)
		return
	}
	s.validator.Normalize(&event)
	s.engine.AddEvent(&event)
	s.ingested.Add(1)
}

// Stop shuts the listener down and waits for in-flight processing.
func (s *DTLSServer) Stop() {
	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()

	slog.Info("DTLS sensor listener stopped",
		"connections", s.connections.Load(),
		"received", s.received.Load(),
		"ingested", s.ingested.Load(),
		"rejected", s.rejected.Load())
}

// Metrics returns current listener metrics.
func (s *DTLSServer) Metrics() DTLSServerMetrics {
	return DTLSServerMetrics{
		Connections: s.connections.Load(),
		Received:    s.received.Load(),
		Ingested:    s.ingested.Load(),
		Rejected:    s.rejected.Load(),
	}
}
