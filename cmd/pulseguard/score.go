package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/pulseguard/pulseguard/pkg/heartrate"
	pio "github.com/pulseguard/pulseguard/pkg/io"
	"github.com/pulseguard/pulseguard/pkg/io/csv"
)

var (
	inputPath string
	noHeader  bool
	value     float64
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score the latest reading of a CSV file against the readings before it",
	Long: `Reads timestamp,bpm rows, keeps the window ending at the newest reading and scores
that reading against the older ones. With --value the given BPM is scored against the whole window.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		samples, err := readSamples()
		if err != nil {
			return err
		}

		analyzer := newAnalyzer()
		now := latest(samples)

		var report heartrate.Report
		if cmd.Flags().Changed("value") {
			report, err = analyzer.AnalyzeValue(cmd.Context(), samples, heartrate.Sample{Time: now, BPM: value})
		} else {
			report, err = analyzer.AnalyzeAt(cmd.Context(), samples, now)
		}
		if err != nil {
			return err
		}

		w, err := pio.NewWriter(opts.Output, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		return w.Write(pio.NewResult(report))
	},
}

func init() {
	scoreCmd.Flags().StringVarP(&inputPath, "input", "i", "", "CSV file of timestamp,bpm rows")
	scoreCmd.Flags().BoolVar(&noHeader, "no-header", false, "The CSV file has no header row")
	scoreCmd.Flags().Float64Var(&value, "value", 0, "Score this BPM instead of the newest reading")
	_ = scoreCmd.MarkFlagRequired("input")
}

func readSamples() ([]heartrate.Sample, error) {
	r, err := csv.NewReader(inputPath, csv.WithHeader(!noHeader))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Read()
}

// latest returns the time of the newest sample, or now when there are none.
func latest(samples []heartrate.Sample) time.Time {
	if len(samples) == 0 {
		return time.Now()
	}
	t := samples[0].Time
	for _, s := range samples[1:] {
		if s.Time.After(t) {
			t = s.Time
		}
	}
	return t
}
