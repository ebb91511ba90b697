// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package pki builds mutual-TLS configurations for the outer transport
// that carries a remoting channel. Channel negotiation itself assumes
// authentication is handled below it; this is that "below".
package pki

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/nishisan-dev/goremoting/internal/config"
	"github.com/nishisan-dev/goremoting/internal/wiremode"
)

// NewClientTLSConfig builds a TLS 1.3 mTLS config for a remoting-agent
// dialing a controller, from the cert/key paths in cfg. It advertises
// wiremode.ALPNProtocol so a controller that only speaks this protocol
// can refuse the connection at the TLS layer rather than wasting a read
// on a preamble scan.
func NewClientTLSConfig(cfg config.TLSClient) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("loading client certificate: %w", err)
	}

	caPool, err := loadCACertPool(cfg.CACert)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		NextProtos:   []string{wiremode.ALPNProtocol},
	}, nil
}

// NewServerTLSConfig builds a TLS 1.3 mTLS config for a
// remoting-controller, from the cert/key paths in cfg, requiring a
// valid client certificate from every dialer. wiremode.ALPNProtocol is
// the only protocol offered: a client that offers other ALPN protocols
// but not this one fails the TLS handshake, while a client that offers
// no ALPN protocol at all is not rejected by this setting. The handshake
// runs on the first read or write of an accepted connection.
func NewServerTLSConfig(cfg config.TLSServer) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.ServerCert, cfg.ServerKey)
	if err != nil {
		return nil, fmt.Errorf("loading server certificate: %w", err)
	}

	caPool, err := loadCACertPool(cfg.CACert)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
		ClientCAs:    caPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		NextProtos:   []string{wiremode.ALPNProtocol},
	}, nil
}

func loadCACertPool(caCertPath string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate from %s", caCertPath)
	}

	return pool, nil
}
