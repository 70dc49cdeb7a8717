package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/aretw0/interplay"
	"github.com/aretw0/interplay/internal/config"
	"github.com/aretw0/interplay/internal/presentation/tui"
	httpAdapter "github.com/aretw0/interplay/pkg/adapters/http"
	"github.com/aretw0/interplay/pkg/domain"
	"github.com/muesli/termenv"
)

// ShutdownTimeout bounds the graceful stop of the HTTP server and the runtime.
const ShutdownTimeout = 5 * time.Second

// Serve listens on cfg.HTTPAddr and runs the control API until ctx is cancelled.
// Status changes are printed to out unless out is nil.
func Serve(ctx context.Context, cfg config.Config, logger *slog.Logger, out io.Writer) error {
	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}
	return ServeListener(ctx, ln, cfg, logger, out)
}

// ServeListener is Serve on an existing listener. The listener is closed on return.
func ServeListener(ctx context.Context, ln net.Listener, cfg config.Config, logger *slog.Logger, out io.Writer) error {
	rt, err := Open(ctx, cfg, logger)
	if err != nil {
		ln.Close()
		return err
	}

	if out != nil {
		tui.PrintBanner(out, interplay.Version)
		if q := rt.Quarantined(); q != "" {
			printSystemMessage(out, "Corrupt state moved to %s, starting empty.", q)
		}
		printSystemMessage(out, "Listening on http://%s", ln.Addr())
	}
	statusDone := make(chan struct{})
	if out != nil {
		events := rt.Subscribe(context.WithoutCancel(ctx))
		go func() {
			defer close(statusDone)
			printStatus(out, events)
		}()
	} else {
		close(statusDone)
	}

	// Streaming handlers return once baseCtx is cancelled.
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	srv := &http.Server{
		Handler: httpAdapter.NewHandler(rt.Orchestrator,
			httpAdapter.WithLogger(logger),
			httpAdapter.WithGatherer(rt.Registry),
		),
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("http server started", "addr", ln.Addr().String())
		serverErrors <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case err := <-serverErrors:
		serveErr = fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("graceful shutdown did not complete", "err", err)
		srv.Close()
	}
	if err := rt.Close(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}
	<-statusDone
	if out != nil && serveErr == nil {
		printSystemMessage(out, "Stopped.")
	}
	return serveErr
}

// printStatus prints lifecycle transitions until events is closed by Shutdown.
func printStatus(w io.Writer, events <-chan domain.Event) {
	term := termenv.NewOutput(w)
	for ev := range events {
		if ev.Name != domain.EventStatus {
			continue
		}
		state, _ := ev.Payload["state"].(string)
		line := fmt.Sprintf("%s %s", ev.Source, tui.StateLabel(term, domain.InstanceState(state)))
		if status, _ := ev.Payload["status"].(string); status != "" && status != state {
			line += " (" + status + ")"
		}
		if msg, ok := ev.Payload["err"].(string); ok {
			line += ": " + msg
		}
		printSystemMessage(w, "%s", line)
	}
}
