package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	pref "github.com/goliatone/go-preference"
	"github.com/goliatone/go-preference/pkg/metrics"
)

// rawCodec passes store values through untouched.
var rawCodec = pref.Func[any](
	func(raw any) (any, bool) { return raw, true },
	func(value any) (any, bool) { return value, value != nil },
	func(a, b any) bool { return reflect.DeepEqual(a, b) },
)

func newWatchCommand(a *app) *cobra.Command {
	var (
		count       int
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "watch <key>...",
		Short: "Print every change to the effective value of the given keys",
		Args:  cobra.MinimumNArgs(1),
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many changes (0 follows until interrupted)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus binding metrics on this address")
	cmd.RunE = a.runE(func(cmd *cobra.Command, args []string) error {
		for _, key := range args {
			if err := pref.ValidateKey(key); err != nil {
				return err
			}
		}

		logger := a.bindingLogger()
		if metricsAddr != "" {
			registry := prometheus.NewRegistry()
			collector := metrics.New(metrics.WithRegistry(registry), metrics.WithKeyLabel())
			logger = pref.MultiLogger(logger, collector)
			stop, err := serveMetrics(metricsAddr, registry, a.logger)
			if err != nil {
				return err
			}
			defer stop()
		}
		wait := startWatch(cmd.Context(), a.store, args, count, cmd.OutOrStdout(), logger)
		return wait()
	})
	return cmd
}

// startWatch binds every key and prints one JSON line per change. The
// returned wait blocks until ctx is done or count changes have been printed,
// then closes the bindings.
func startWatch(ctx context.Context, store pref.Store, keys []string, count int, out io.Writer, logger pref.Logger) (wait func() error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	var (
		mu      sync.Mutex
		printed int
	)
	encoder := json.NewEncoder(out)

	bindings := make([]*pref.Binding[any], 0, len(keys))
	for _, key := range keys {
		b := pref.New[any](key, nil, rawCodec, store, pref.WithLogger(logger))
		bindings = append(bindings, b)
		b.Subscribe(func(value any) {
			mu.Lock()
			defer mu.Unlock()
			if ctx.Err() != nil {
				return
			}
			line := watchLine{Key: key, Value: value, Removed: value == nil, At: time.Now().UTC()}
			if err := encoder.Encode(line); err != nil {
				cancel()
				return
			}
			printed++
			if count > 0 && printed >= count {
				cancel()
			}
		})
	}

	return func() error {
		defer cancel()
		<-ctx.Done()
		for _, b := range bindings {
			b.Close()
		}
		if err := context.Cause(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

type watchLine struct {
	Key     string    `json:"key"`
	Value   any       `json:"value"`
	Removed bool      `json:"removed,omitempty"`
	At      time.Time `json:"at"`
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", listener.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}
