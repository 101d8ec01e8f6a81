package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/aegistudio/shaft"
	"github.com/aegistudio/shaft/serpent"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/chaitin/tracescript"
	"github.com/chaitin/tracescript/pkg/parser"
	"github.com/chaitin/tracescript/pkg/replay"
)

var (
	logLevel   = "info"
	replayPath string
	outputPath string
	spoolDepth int
	deferred   bool

	scriptPath string
)

// exitError carries the code of a script exit() action to the
// process exit status.
type exitError struct {
	code int64
}

func (e *exitError) Error() string {
	return fmt.Sprintf("script exited with code %d", e.code)
}

var rootCmd = &cobra.Command{
	Use:  "tracescript <script>",
	Long: "Trace script compiler and execution engine",
	Args: cobra.ExactArgs(1),
	PreRunE: func(_ *cobra.Command, args []string) error {
		scriptPath = args[0]
		return nil
	},
	RunE: serpent.Executor(shaft.Module(
		shaft.Stack(func(
			next func(*errgroup.Group, context.Context) error,
			rootCtx serpent.CommandContext,
		) error {
			cancelCtx, cancel := context.WithCancel(rootCtx)
			group, ctx := errgroup.WithContext(cancelCtx)
			defer func() { _ = group.Wait() }()
			defer cancel()
			return next(group, ctx)
		}),
		shaft.Provide(func() (*parser.Script, error) {
			data, err := os.ReadFile(scriptPath)
			if err != nil {
				return nil, errors.Wrap(err, "read script")
			}
			return parser.Parse(string(data))
		}),
		shaft.Provide(func() (*replay.Feed, error) {
			if replayPath == "" {
				return nil, nil
			}
			return replay.LoadFile(replayPath)
		}),
		shaft.Provide(func(feed *replay.Feed) tracescript.Catalog {
			if feed == nil {
				return tracescript.CatalogFunc(func() []tracescript.ProbeInfo {
					return nil
				})
			}
			return feed
		}),
		shaft.Provide(func() (tracescript.Sink, error) {
			var sink tracescript.Sink
			if outputPath == "" {
				sink = tracescript.NewStdoutSink()
			} else {
				f, err := os.Create(outputPath)
				if err != nil {
					return nil, errors.Wrap(err, "create output")
				}
				sink = tracescript.NewWriterSink(f)
			}
			if spoolDepth > 0 {
				sink = tracescript.NewSpoolSink(sink, spoolDepth)
			}
			return sink, nil
		}),
		shaft.Provide(func(
			script *parser.Script, catalog tracescript.Catalog,
		) (*tracescript.Program, error) {
			return tracescript.Compile(script, catalog,
				tracescript.WithDeferredBinding(deferred))
		}),
		shaft.Provide(func(
			ctx context.Context, group *errgroup.Group,
			program *tracescript.Program,
			logger *zap.Logger, sink tracescript.Sink,
		) (*tracescript.Engine, error) {
			return tracescript.New(ctx, group, program,
				tracescript.WithLogger(logger),
				tracescript.WithSink(sink))
		}),
		shaft.Invoke(func(
			ctx context.Context, eng *tracescript.Engine,
			feed *replay.Feed, logger *zap.SugaredLogger,
		) error {
			if feed != nil {
				for _, ev := range feed.Events() {
					if !eng.Dispatch(ev) {
						break
					}
				}
				eng.Stop()
			}
			select {
			case <-ctx.Done():
			case <-eng.Done():
			}
			<-eng.Done()
			stats := eng.Stats()
			logger.Infof("dispatched %d events, fired %d clauses, %d faults",
				stats.Dispatched, stats.Fired, stats.Faults)
			if code := eng.ExitCode(); code != 0 {
				return &exitError{code: code}
			}
			return nil
		}),
		shaft.Stack(func(
			next func(*zap.Logger, *zap.SugaredLogger) error,
		) error {
			level, err := zapcore.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			consoleLevel := zap.NewAtomicLevelAt(level)
			consoleConfig := zap.NewDevelopmentEncoderConfig()
			consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
			consoleErrors := zapcore.Lock(os.Stderr)
			consoleEncoder := zapcore.NewConsoleEncoder(consoleConfig)
			loggerCore := zapcore.NewCore(
				consoleEncoder, consoleErrors, consoleLevel)
			logger := zap.New(loggerCore)
			sugaredLogger := logger.Sugar()
			defer logger.Sync()
			return next(logger, sugaredLogger)
		}),
	)).RunE,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", logLevel,
		"setup the log level of the logger")
	rootCmd.Flags().StringVarP(
		&replayPath, "replay", "r", replayPath,
		"recording file to run the script against")
	rootCmd.Flags().StringVarP(
		&outputPath, "output", "o", outputPath,
		"write trace output to file instead of stdout")
	rootCmd.Flags().IntVar(
		&spoolDepth, "spool", spoolDepth,
		"bound output spool depth, dropping oldest lines under overload")
	rootCmd.Flags().BoolVar(
		&deferred, "deferred-binding", deferred,
		"permit specifiers matching no probe of the catalog")
}

func main() {
	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt)
	defer cancel()
	if err := serpent.ExecuteContext(ctx, rootCmd); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(int(exit.code))
		}
		os.Exit(1)
	}
}
