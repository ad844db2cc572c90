package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/m-barthelemy/notifyd/models"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/acme/autocert"
)

// startServer serves handler until ctx is done, then shuts down gracefully.
func startServer(ctx context.Context, config *models.Config, handler http.Handler) error {
	domain, _, _ := net.SplitHostPort(config.AppURL.Host)
	if domain == "" {
		domain = config.AppURL.Host
	}
	certManager := autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domain),
	}

	if config.SSLMode == "auto" {
		if err := cacheDir(config.SSLAutoCertsDir); err != nil {
			return fmt.Errorf("could not create Letsencrypt certs directory %s: %w", config.SSLAutoCertsDir, err)
		}
		certManager.Cache = autocert.DirCache(config.SSLAutoCertsDir)
	}

	var tlsConfig tls.Config
	var customCert tls.Certificate
	if config.SSLMode == "custom" {
		var err error
		customCert, err = tls.LoadX509KeyPair(config.SSLCustomCertPath, config.SSLCustomKeyPath)
		if err != nil {
			return fmt.Errorf("could not load custom key or certificate: %w", err)
		}
	}
	if config.SSLMode == "auto" || config.SSLMode == "custom" {
		tlsConfig = tls.Config{
			SessionTicketsDisabled: true,
			MinVersion:             tls.VersionTLS12,
			CipherSuites: []uint16{
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
				tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			},
			GetCertificate: func(clientHello *tls.ClientHelloInfo) (*tls.Certificate, error) {
				if config.SSLMode == "auto" {
					return certManager.GetCertificate(clientHello)
				}
				return &customCert, nil
			},
		}
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%v", config.Host, config.Port),
		TLSConfig:         &tlsConfig,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// A dispatch waits for both push and email before answering.
		WriteTimeout: 2*config.ChannelTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
		Handler:      handler,
	}

	if config.SSLMode == "auto" {
		go func() {
			// Serve HTTP, which will redirect automatically to HTTPS
			h := certManager.HTTPHandler(nil)
			if err := http.ListenAndServe(":http", h); err != nil {
				log.Errorf("ACME HTTP listener stopped: %s", err)
			}
		}()
	}

	errs := make(chan error, 1)
	go func() {
		log.Infof("Serving http/https on %s for domain %s (SSL mode %s)", server.Addr, domain, config.SSLMode)
		if config.SSLMode == "auto" || config.SSLMode == "custom" {
			errs <- server.ListenAndServeTLS("", "")
		} else {
			errs <- server.ListenAndServe()
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*config.ChannelTimeout+5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func cacheDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}
