package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"roomchat/internal/devserver"
)

// ServerHandle represents a running development lobby server.
type ServerHandle struct {
	addr   string
	server *http.Server
	done   chan struct{}
	err    error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Stop triggers a graceful shutdown with the provided context deadline.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	return h.server.Shutdown(ctx)
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// StartDevServer listens on addr and serves the in-memory lobby in the background.
func StartDevServer(ctx context.Context, addr string, opts devserver.Options, logger zerolog.Logger) (*ServerHandle, error) {
	hub := devserver.NewHub(logger, opts)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	handle := &ServerHandle{
		addr:   listener.Addr().String(),
		server: httpServer,
		done:   make(chan struct{}),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn().Err(err).Msg("dev server shutdown")
		}
	}()
	go func() {
		defer close(handle.done)
		err := httpServer.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		handle.err = err
	}()
	return handle, nil
}

// RunLocal starts the dev server and points a client at it.
func RunLocal(ctx context.Context, cfg LocalConfig) error {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg.Client.applyDefaults()
	logger, logCloser, err := NewLogger(cfg.Client.LogFile, cfg.Client.LogLevel)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	uploadDir, err := os.MkdirTemp("", "roomchat-uploads-")
	if err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}
	defer os.RemoveAll(uploadDir)

	opts := devserver.Options{UploadDir: uploadDir, MaxFileSize: cfg.Client.MaxUpload}
	handle, err := StartDevServer(ctx, cfg.Addr, opts, logger)
	if err != nil {
		return err
	}
	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}
	logger.Info().Str("addr", handle.Addr()).Msg("dev server ready")

	cfg.Client.ServerURL = buildWebsocketURL(handle.Addr())
	runErr := runClient(ctx, cfg.Client, logger)
	cancel()
	if err := handle.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func buildWebsocketURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("ws://%s/ws", addr)
	}
	return fmt.Sprintf("ws://%s/ws", net.JoinHostPort(host, port))
}
