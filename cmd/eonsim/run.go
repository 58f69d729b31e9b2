package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iti/eonclos"
)

func newRun(parent *cobra.Command, loggerFor func() (*zap.Logger, error)) *cobra.Command {
	var flags struct {
		config      string
		name        string
		traffic     string
		trace       string
		report      string
		snapshots   []string
		w, s, p     int
		slots       int
		saveConfig  string
		metricsAddr string
	}

	var cmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Run a traffic set over a Clos fabric",
		Example: fmt.Sprintf(`  %[1]s run --config exp.yaml
  %[1]s run --w 4 --s 4 --p 4 --traffic traffic.txt --report report.yaml`, parent.Name()),
		Long: `'run' reads an experiment description (or builds one from flags), runs its
traffic over the fabric it describes, and prints the blocking counters.
Flags given alongside --config override the fields of the description.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := loggerFor()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			cmd.SilenceUsage = true

			var xd *eonclos.ExpDesc
			if len(flags.config) > 0 {
				ext := filepath.Ext(flags.config)
				xd, err = eonclos.ReadExpDesc(flags.config, ext == ".yaml" || ext == ".yml", nil)
				if err != nil {
					return err
				}
			} else {
				xd = eonclos.CreateExpDesc(flags.name,
					eonclos.CreateFabricDesc(flags.w, flags.s, flags.p, flags.slots), flags.traffic)
			}
			if cmd.Flags().Changed("name") {
				xd.Name = flags.name
			}
			if cmd.Flags().Changed("traffic") {
				xd.Traffic = flags.traffic
			}
			if cmd.Flags().Changed("trace") {
				xd.Trace = flags.trace
			}
			if cmd.Flags().Changed("report") {
				xd.Report = flags.report
			}
			if cmd.Flags().Changed("snapshot") {
				xd.Snapshots = flags.snapshots
			}
			if cmd.Flags().Changed("w") {
				xd.Fabric.W = flags.w
			}
			if cmd.Flags().Changed("s") {
				xd.Fabric.S = flags.s
			}
			if cmd.Flags().Changed("p") {
				xd.Fabric.P = flags.p
			}
			if cmd.Flags().Changed("slots") {
				xd.Fabric.Slots = flags.slots
			}
			if len(xd.Traffic) == 0 {
				return errors.New("no traffic file given")
			}
			if len(flags.saveConfig) > 0 {
				if err := xd.WriteToFile(flags.saveConfig); err != nil {
					return err
				}
				logger.Info("experiment description saved", zap.String("file", flags.saveConfig))
			}

			opts := []eonclos.SimOption{}
			if len(flags.metricsAddr) > 0 {
				reg := prometheus.NewRegistry()
				collector, err := eonclos.NewSimCollector(reg)
				if err != nil {
					return err
				}
				stop := serveMetrics(flags.metricsAddr, collector.Handler(), logger)
				defer stop()
				opts = append(opts, eonclos.WithMetrics(collector))
			}

			rpt, err := eonclos.RunExperiment(xd, logger, opts...)
			if rpt != nil {
				printReport(cmd, rpt)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&flags.config, "config", "", "Experiment description (yaml or json)")
	cmd.Flags().StringVar(&flags.name, "name", "eonclos", "Experiment name")
	cmd.Flags().StringVar(&flags.traffic, "traffic", "", "Traffic record file")
	cmd.Flags().StringVar(&flags.trace, "trace", "", "Write the request trace to this file")
	cmd.Flags().StringVar(&flags.report, "report", "", "Write the run report to this file")
	cmd.Flags().StringSliceVar(&flags.snapshots, "snapshot", nil,
		"Include the spectrum of this link in the report (repeatable)")
	cmd.Flags().IntVar(&flags.w, "w", 4, "First and second stage switches")
	cmd.Flags().IntVar(&flags.s, "s", 4, "Spine switches")
	cmd.Flags().IntVar(&flags.p, "p", 4, "Ports per first/second stage switch")
	cmd.Flags().IntVar(&flags.slots, "slots", 320, "Spectrum slots per link")
	cmd.Flags().StringVar(&flags.saveConfig, "save-config", "",
		"Write the experiment description actually run to this file (yaml or json)")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address while the run lasts")
	return cmd
}

// serveMetrics exposes handler under /metrics on addr and returns the function
// that shuts the server down
func serveMetrics(addr string, handler http.Handler, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func printReport(cmd *cobra.Command, rpt *eonclos.Report) {
	out := cmd.OutOrStdout()
	st := rpt.Stats
	fmt.Fprintf(out, "experiment        %s\n", rpt.Name)
	fmt.Fprintf(out, "fabric            W=%d S=%d P=%d slots=%d\n",
		rpt.Fabric.W, rpt.Fabric.S, rpt.Fabric.P, rpt.Fabric.Slots)
	fmt.Fprintf(out, "ticks             %d\n", rpt.Summary.Ticks)
	fmt.Fprintf(out, "requests          %d (invalid %d)\n", st.TotalRequests, st.Invalid)
	fmt.Fprintf(out, "admitted          %d\n", st.Admitted)
	fmt.Fprintf(out, "external blocked  %d\n", st.ExternallyBlocked)
	fmt.Fprintf(out, "internal blocked  %d\n", st.InternallyBlocked)
	fmt.Fprintf(out, "blocking ratio    %.6f (mean %.6f, peak %.6f)\n",
		rpt.Summary.FinalRatio, rpt.Summary.MeanRatio, rpt.Summary.PeakRatio)
	for _, lr := range rpt.Links {
		fmt.Fprintf(out, "%s [%d/%d]: %s\n", lr.Name, lr.Occupied, rpt.Fabric.Slots, lr.Spectrum)
	}
}
