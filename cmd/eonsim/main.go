// eonsim runs routing and spectrum assignment experiments over a three-stage
// Clos elastic optical fabric, and generates the traffic they consume.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	executable := filepath.Base(os.Args[0])
	var logLevel string

	cmd := &cobra.Command{
		Use:   executable,
		Short: "Elastic optical Clos fabric simulator",
		Long: `Simulates first-fit routing and spectrum assignment of timed connection
requests over a W x S x W Clos fabric and reports the blocking ratio.`,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level (debug, info, warn, error)")

	loggerFor := func() (*zap.Logger, error) {
		return newLogger(logLevel)
	}
	cmd.AddCommand(
		newRun(cmd, loggerFor),
		newGen(cmd, loggerFor),
	)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds a console logger at the named level.  At debug level the
// development configuration is used, which adds caller and stack information.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
