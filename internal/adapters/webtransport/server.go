// Package webtransport serves the WebTransport endpoint over HTTP/3 and hands
// every accepted session to the signal demux.
package webtransport

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/dkeye/Bounce/internal/adapters/signal"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
	"github.com/rs/zerolog/log"
)

const protocolWebTransport = "webtransport"

type Config struct {
	BindAddress string
	BindPort    int
	CertFile    string
	KeyFile     string
	Path        string
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.BindPort))
}

type Server struct {
	cfg   Config
	demux *signal.Demux
	wt    *webtransport.Server
	mux   *http.ServeMux
}

func NewServer(cfg Config, demux *signal.Demux) *Server {
	s := &Server{cfg: cfg, demux: demux, mux: http.NewServeMux()}
	s.mux.HandleFunc(cfg.Path, s.handleSession)

	s.wt = &webtransport.Server{
		H3: &http3.Server{
			Addr:      cfg.Addr(),
			TLSConfig: http3.ConfigureTLSConfig(&tls.Config{MinVersion: tls.VersionTLS13}),
			Handler:   s.mux,
		},
		// browsers connect from pages served elsewhere
		CheckOrigin: func(*http.Request) bool { return true },
	}
	webtransport.ConfigureHTTP3Server(s.wt.H3)
	return s
}

// Handler is the HTTP/3 request handler; exposed for tests.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	// extended CONNECT carries :protocol in r.Proto
	if r.Method != http.MethodConnect || r.Proto != protocolWebTransport {
		http.NotFound(w, r)
		return
	}
	sess, err := s.wt.Upgrade(w, r)
	if err != nil {
		log.Warn().Err(err).Str("module", "webtransport").Str("remote", r.RemoteAddr).Msg("upgrade failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	log.Info().Str("module", "webtransport").Str("remote", r.RemoteAddr).Msg("session accepted")
	s.demux.Serve(sessionConn{s: sess})
}

// ListenAndServe blocks until Close is called.
func (s *Server) ListenAndServe() error {
	log.Info().
		Str("module", "webtransport").
		Str("addr", s.cfg.Addr()).
		Str("path", s.cfg.Path).
		Msg("listening")
	cert, err := tls.LoadX509KeyPair(s.cfg.CertFile, s.cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("load certificate: %w", err)
	}
	s.wt.H3.TLSConfig.Certificates = []tls.Certificate{cert}

	err = s.wt.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) Close() error { return s.wt.Close() }
