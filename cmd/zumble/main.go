// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package main

import (
	"context"
	"crypto/tls"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"
	"golang.org/x/net/netutil"

	"github.com/sozsub/zumble/pkg/httpapi"
	"github.com/sozsub/zumble/pkg/server"
)

const maxControlConns = 1000

func main() {
	app := &cli.App{
		Name:  "zumble",
		Usage: "Mumble-protocol voice server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: "0.0.0.0:64738", Usage: "TLS control/voice listen address"},
			&cli.StringFlag{Name: "http-listen", Value: "0.0.0.0:8080", Usage: "HTTP admin listen address"},
			&cli.StringFlag{Name: "http-user", Value: "admin", Usage: "HTTP admin basic-auth username"},
			&cli.StringFlag{Name: "http-password", Value: "", Usage: "HTTP admin basic-auth password"},
			&cli.BoolFlag{Name: "https", Value: false, Usage: "serve the HTTP admin surface over TLS using --cert/--key"},
			&cli.BoolFlag{Name: "http-log", Value: true, Usage: "log HTTP admin requests"},
			&cli.StringFlag{Name: "key", Value: "key.pem", Usage: "TLS private key path"},
			&cli.StringFlag{Name: "cert", Value: "cert.pem", Usage: "TLS certificate path"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Printf("zumble: %v", err)
		os.Exit(1)
	}
}

func run(cctx *cli.Context) error {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	cert, err := tls.LoadX509KeyPair(cctx.String("cert"), cctx.String("key"))
	if err != nil {
		return err
	}
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}}

	ln, err := tls.Listen("tcp", cctx.String("listen"), tlsConfig)
	if err != nil {
		return err
	}
	limited := netutil.LimitListener(ln, maxControlConns)
	defer limited.Close()

	udpAddr, err := net.ResolveUDPAddr("udp", cctx.String("listen"))
	if err != nil {
		return err
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	defer udpConn.Close()

	s := server.New(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := s.ServeTLS(limited); err != nil {
			logger.Printf("control listener stopped: %v", err)
		}
	}()
	go func() {
		if err := s.ServeUDP(udpConn); err != nil {
			logger.Printf("udp listener stopped: %v", err)
		}
	}()
	go s.RunCleanupLoop(ctx)

	hub := httpapi.NewHub(s)
	router := httpapi.NewRouter(s, hub, httpapi.Config{
		User:       cctx.String("http-user"),
		Password:   cctx.String("http-password"),
		RequestLog: cctx.Bool("http-log"),
	})

	httpServer := &http.Server{
		Addr:    cctx.String("http-listen"),
		Handler: router,
	}
	go func() {
		var err error
		if cctx.Bool("https") {
			httpServer.TLSConfig = tlsConfig
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Printf("http admin server stopped: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig

	logger.Print("shutting down")
	cancel()
	_ = httpServer.Shutdown(context.Background())
	return nil
}
