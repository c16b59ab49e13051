package nbexec

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// ExtensionOption configures an Extension.
type ExtensionOption func(*Extension)

// WithExtensionLogger sets a structured logger for the server lifecycle.
func WithExtensionLogger(l *slog.Logger) ExtensionOption {
	return func(e *Extension) { e.logger = l }
}

// WithShutdownTimeout bounds the HTTP drain and the stack disposal at
// server stop. Default 3 seconds.
func WithShutdownTimeout(d time.Duration) ExtensionOption {
	return func(e *Extension) { e.shutdownTimeout = d }
}

// Extension ties an ExecutionStack to an HTTP server: it builds the
// REST surface at bring-up and disposes the stack at shutdown under a
// bounded timeout.
type Extension struct {
	addr            string
	stack           *ExecutionStack
	handler         http.Handler
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// NewExtension creates the server around an existing stack.
func NewExtension(addr string, stack *ExecutionStack, manager KernelManager, opts ...ExtensionOption) *Extension {
	e := &Extension{
		addr:            addr,
		stack:           stack,
		logger:          slog.New(slog.DiscardHandler),
		shutdownTimeout: DefaultDisposeTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.handler = NewHandler(stack, manager, WithHandlerLogger(e.logger))
	return e
}

// Run serves the REST surface until ctx is cancelled, then drains the
// HTTP server and disposes the stack. Disposal overruns are logged,
// not propagated: the server is going away either way.
func (e *Extension) Run(ctx context.Context) error {
	srv := &http.Server{Addr: e.addr, Handler: e.handler}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	e.logger.Info("nbexec server listening", "addr", e.addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), e.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		e.logger.Warn("http shutdown overran", "error", err)
	}

	disposeCtx, cancelDispose := context.WithTimeout(context.Background(), e.shutdownTimeout)
	defer cancelDispose()
	if err := e.stack.Dispose(disposeCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.logger.Warn("execution stack disposal overran", "timeout", e.shutdownTimeout)
		} else {
			e.logger.Warn("execution stack disposal failed", "error", err)
		}
	}
	return nil
}
