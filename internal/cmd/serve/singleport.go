package serve

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/soheilhy/cmux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunningServers are the HTTP servers sharing one listener.
type RunningServers struct {
	Addr            net.Addr
	Port            int
	HTTPServerPlain *http.Server
	HTTPServerTLS   *http.Server
	Close           func(ctx context.Context) error
}

// StartSinglePortHTTP serves handler over plaintext (HTTP/1.1 and h2c) and TLS on the same
// port. cmux routes each connection by its first bytes.
func StartSinglePortHTTP(
	_ context.Context,
	cfg config.ListenerConfig,
	handler http.Handler,
) (*RunningServers, error) {
	if !cfg.EnablePlainText && !cfg.EnableTLS {
		return nil, fmt.Errorf("listener requires plaintext and/or tls enabled")
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}

	var cert tls.Certificate
	if cfg.EnableTLS {
		var err error
		if cert, err = loadServerCertificate(cfg.TLSCertFile, cfg.TLSKeyFile); err != nil {
			return nil, err
		}
	}

	baseLis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d failed: %w", cfg.Port, err)
	}
	muxer := cmux.New(baseLis)
	running := &RunningServers{Addr: baseLis.Addr()}
	if tcpAddr, ok := baseLis.Addr().(*net.TCPAddr); ok {
		running.Port = tcpAddr.Port
	}

	// The TLS matcher must be registered before the catch-all.
	if cfg.EnableTLS {
		lis := tls.NewListener(muxer.Match(cmux.TLS()), &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"h2", "http/1.1"},
			MinVersion:   tls.VersionTLS12,
		})
		running.HTTPServerTLS = &http.Server{Handler: handler, ReadHeaderTimeout: cfg.ReadHeaderTimeout}
		go serveHTTP("tls", running.HTTPServerTLS, lis)
	}
	if cfg.EnablePlainText {
		lis := muxer.Match(cmux.Any())
		running.HTTPServerPlain = &http.Server{
			Handler:           h2c.NewHandler(handler, &http2.Server{}),
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		}
		go serveHTTP("plaintext", running.HTTPServerPlain, lis)
	}

	go func() {
		if err := muxer.Serve(); err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
			log.Error("Connection mux failed", "addr", baseLis.Addr(), "err", err)
		}
	}()

	var closeOnce sync.Once
	var closeErr error
	running.Close = func(ctx context.Context) error {
		closeOnce.Do(func() {
			for _, srv := range []*http.Server{running.HTTPServerPlain, running.HTTPServerTLS} {
				if srv == nil {
					continue
				}
				if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
					closeErr = errors.Join(closeErr, err)
				}
			}
			_ = baseLis.Close()
		})
		return closeErr
	}
	return running, nil
}

func serveHTTP(kind string, srv *http.Server, lis net.Listener) {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("HTTP server failed", "kind", kind, "err", err)
	}
}

// loadServerCertificate reads the configured key pair, or mints a throwaway localhost
// certificate when none is configured.
func loadServerCertificate(certFile, keyFile string) (tls.Certificate, error) {
	certFile, keyFile = strings.TrimSpace(certFile), strings.TrimSpace(keyFile)
	if certFile == "" || keyFile == "" {
		log.Warn("No TLS key pair configured, using a self-signed localhost certificate")
		return selfSignedLocalhost(time.Now())
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load tls key pair %s: %w", certFile, err)
	}
	return cert, nil
}

func selfSignedLocalhost(now time.Time) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("self-signed key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("self-signed serial: %w", err)
	}
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "localhost", Organization: []string{"chat-service"}},
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, key.Public(), key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("self-signed certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, nil
}
