package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iti/eonclos"
)

func newGen(parent *cobra.Command, loggerFor func() (*zap.Logger, error)) *cobra.Command {
	var flags struct {
		out string
		tg  eonclos.TrafficGenDesc
	}
	defaults := eonclos.CreateTrafficGenDesc(1000, 16)

	var cmd = &cobra.Command{
		Use:     "gen [flags]",
		Short:   "Generate a synthetic traffic set",
		Example: fmt.Sprintf("  %[1]s gen --requests 10000 --ports 16 --load 600 --out traffic.txt", parent.Name()),
		Long: `'gen' writes requests with Poisson arrival gaps, exponentially distributed
holding times, and uniformly drawn widths and endpoints, in the format 'run' reads.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := loggerFor()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			cmd.SilenceUsage = true

			reqs, err := eonclos.GenerateTraffic(flags.tg)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if len(flags.out) > 0 {
				f, err := os.Create(flags.out)
				if err != nil {
					return errors.Wrapf(err, "create %s", flags.out)
				}
				defer f.Close()
				w = f
			}
			if err := eonclos.WriteTraffic(w, reqs); err != nil {
				return err
			}
			logger.Info("traffic generated", zap.Int("requests", len(reqs)),
				zap.Int("maxTime", eonclos.MaxTime(reqs)), zap.String("out", flags.out))
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&flags.out, "out", "", "Output file (standard output when empty)")
	fl.IntVar(&flags.tg.Requests, "requests", defaults.Requests, "Number of requests")
	fl.IntVar(&flags.tg.Ports, "ports", defaults.Ports, "Number of ports (W x P of the fabric)")
	fl.Float64Var(&flags.tg.Load, "load", defaults.Load, "Offered load in Erlangs")
	fl.Float64Var(&flags.tg.MeanHolding, "holding", defaults.MeanHolding, "Mean holding time before scaling")
	fl.IntVar(&flags.tg.MaxWidth, "max-width", defaults.MaxWidth, "Largest request width in slots")
	fl.Float64Var(&flags.tg.Scale, "scale", defaults.Scale, "Ticks per unit of holding time")
	fl.StringVar(&flags.tg.HoldingModel, "holding-model", defaults.HoldingModel, "expon or const")
	fl.StringVar(&flags.tg.ArrivalModel, "arrival-model", defaults.ArrivalModel, "poisson or const")
	fl.BoolVar(&flags.tg.DistinctEndpoints, "distinct", false, "Never draw a destination equal to the source")
	fl.IntVar(&flags.tg.Slots, "slots", 0, "Add a slot hint in [0, slots-width] to every record")
	fl.StringVar(&flags.tg.StreamName, "stream", defaults.StreamName, "Name prefix of the random streams")
	return cmd
}
