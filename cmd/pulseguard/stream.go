package main

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pulseguard/pulseguard/pkg/heartrate"
	pio "github.com/pulseguard/pulseguard/pkg/io"
	"github.com/pulseguard/pulseguard/pkg/io/csv"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Score every reading of a CSV file against the readings before it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		r, err := csv.NewReader(inputPath, csv.WithHeader(!noHeader))
		if err != nil {
			return err
		}
		defer r.Close()

		w, err := pio.NewWriter(opts.Output, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		in, err := r.Stream(ctx)
		if err != nil {
			return err
		}

		out := make(chan heartrate.Report)
		errc := make(chan error, 1)
		go func() {
			errc <- newAnalyzer().ScoreStream(ctx, in, out)
			close(out)
		}()

		var total, anomalies int
		for report := range out {
			total++
			if report.Verdict.IsAnomaly {
				anomalies++
			}
			if err := w.Write(pio.NewResult(report)); err != nil {
				return err
			}
		}

		logrus.WithFields(logrus.Fields{
			"scored":    total,
			"anomalies": anomalies,
		}).Info("stream finished")
		return <-errc
	},
}

func init() {
	streamCmd.Flags().StringVarP(&inputPath, "input", "i", "", "CSV file of timestamp,bpm rows")
	streamCmd.Flags().BoolVar(&noHeader, "no-header", false, "The CSV file has no header row")
	_ = streamCmd.MarkFlagRequired("input")
}
