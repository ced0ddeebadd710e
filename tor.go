// Huddle, October 2026
// License AGPL3

package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cretz/bine/tor"
	"github.com/cretz/bine/torutil"
	tued25519 "github.com/cretz/bine/torutil/ed25519"
)

// getOrCreateKey loads the onion service key from path, generating and
// saving a new one if the file doesn't exist. Keeping the key keeps the
// .onion address stable across restarts.
func getOrCreateKey(path string) (ed25519.PrivateKey, error) {
	d, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		_, pk, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		x509Encoded, err := x509.MarshalPKCS8PrivateKey(pk)
		if err != nil {
			return nil, err
		}
		pemEncoded := pem.EncodeToMemory(&pem.Block{Type: "ED25519 PRIVATE KEY", Bytes: x509Encoded})
		if err := os.WriteFile(path, pemEncoded, 0600); err != nil {
			return nil, err
		}
		return pk, nil
	}
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(d)
	if block == nil {
		return nil, fmt.Errorf("no PEM data in %s", path)
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pk, ok := k.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("invalid key type %T wanted ed25519.PrivateKey", k)
	}
	return pk, nil
}

func onionAddr(pk ed25519.PrivateKey) string {
	return torutil.OnionServiceIDFromV3PublicKey(tued25519.PublicKey([]byte(pk.Public().(ed25519.PublicKey))))
}

// serveOnion starts a tor process and serves srv as a v3 onion service on
// port 80. It requires a tor binary on PATH.
func serveOnion(srv *http.Server, keyPath string) error {
	pk, err := getOrCreateKey(keyPath)
	if err != nil {
		return fmt.Errorf("error loading onion key: %w", err)
	}

	d, err := os.MkdirTemp("", "huddle-tor")
	if err != nil {
		return err
	}
	defer os.RemoveAll(d)

	t, err := tor.Start(context.Background(), &tor.StartConf{TempDataDirBase: d, NoHush: true})
	if err != nil {
		return fmt.Errorf("unable to start Tor: %w", err)
	}
	defer t.Close()

	// Wait at most a few minutes to publish the service.
	listenCtx, listenCancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer listenCancel()

	onion, err := t.Listen(listenCtx, &tor.ListenConf{Key: pk, Version3: true, RemotePorts: []int{80}})
	if err != nil {
		return fmt.Errorf("unable to create onion service: %w", err)
	}
	defer onion.Close()

	logger.Infof("starting server on http://%s.onion", onionAddr(pk))
	return srv.Serve(onion)
}
