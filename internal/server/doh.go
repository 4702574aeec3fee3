package server

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shroudns/shroudns/internal/bus"
	"github.com/shroudns/shroudns/internal/certs"
)

const (
	dohPath               = "/dns-query"
	dohContentType        = "application/dns-message"
	dohMaxRequestBodySize = 65535
)

// DoHServer is the DNS-over-HTTPS listener (RFC 8484). Each request gets
// its own reply channel; there is no transaction ID rewriting here since
// HTTP already multiplexes concurrent requests without collision.
type DoHServer struct {
	Logger   *slog.Logger
	Bus      *bus.Bus
	CertPath string
	KeyPath  string

	httpServer *http.Server
}

// Run loads the configured TLS keypair and serves HTTPS at addr until ctx
// is canceled.
func (s *DoHServer) Run(ctx context.Context, addr string) error {
	cert, err := certs.LoadKeyPair(s.CertPath, s.KeyPath)
	if err != nil {
		return fmt.Errorf("doh: load keypair: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(dohPath, s.handleDNSQuery)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}},
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServeTLS("", "")
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *DoHServer) handleDNSQuery(w http.ResponseWriter, r *http.Request) {
	var query []byte

	switch r.Method {
	case http.MethodGet:
		encoded := r.URL.Query().Get("dns")
		if encoded == "" {
			http.Error(w, "missing dns query parameter", http.StatusBadRequest)
			return
		}
		decoded, err := base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			http.Error(w, "invalid base64url dns query parameter", http.StatusBadRequest)
			return
		}
		query = decoded

	case http.MethodPost:
		if ct := r.Header.Get("Content-Type"); ct != dohContentType {
			http.Error(w, "content-type must be "+dohContentType, http.StatusUnsupportedMediaType)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, dohMaxRequestBodySize+1))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		if len(body) > dohMaxRequestBodySize {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		query = body

	default:
		http.NotFound(w, r)
		return
	}

	if len(query) < 2 {
		http.Error(w, "dns message too short", http.StatusBadRequest)
		return
	}

	response, err := s.resolve(r.Context(), query)
	if err != nil {
		s.logger().Warn("doh query failed", "error", err)
		http.Error(w, "internal resolver error", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", dohContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(response)
}

func (s *DoHServer) resolve(ctx context.Context, query []byte) ([]byte, error) {
	reply := make(chan []byte, 1)
	if err := s.Bus.Send(ctx, bus.Entry{Query: query, Reply: reply}); err != nil {
		return nil, err
	}

	select {
	case resp := <-reply:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *DoHServer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
