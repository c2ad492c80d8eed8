package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pulseguard/pulseguard/pkg/config"
	"github.com/pulseguard/pulseguard/pkg/detectors/iforest"
	"github.com/pulseguard/pulseguard/pkg/heartrate"
)

var (
	buildVersion       = "unknown"
	buildDate          = "unknown"
	cfgFile            string
	logLevel           string
	envPrefix          = "PULSEGUARD"
	defaultCfgFileName = ".pulseguard"
	opts               = config.DefaultOptions()
)

// rootCmd represents the root command
var rootCmd = &cobra.Command{
	Use:           "pulseguard",
	Short:         "Score heart-rate readings for anomalies with an isolation forest",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return opts.Validate()
	},
}

// initConfig uses the config file and env variables if set.
func initConfig() {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			// Search config in home directory with name ".pulseguard" (without extension).
			v.AddConfigPath(home)
		}
		v.SetConfigName(defaultCfgFileName)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	cfgErr := v.ReadInConfig()

	bindFlags(rootCmd.PersistentFlags(), v)
	for _, cmd := range rootCmd.Commands() {
		bindFlags(cmd.Flags(), v)
	}

	initLogger()

	if cfgErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(cfgErr, &notFound) {
			log.Errorf("Read config error: %v", cfgErr)
		}
	}
	dumpConfig()
}

func initLogger() {
	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		ll = log.InfoLevel
	}
	log.SetLevel(ll)
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, PadLevelText: true, DisableQuote: true})
}

func dumpConfig() {
	configAsJSON, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(&opts, "", "    ")
	if err != nil {
		log.WithError(err).Warn("error dumping config")
		return
	}
	log.Debugf("Using configuration:\n%s", configAsJSON)
}

// bindFlags applies config file and env values to flags the user did not set.
func bindFlags(flags *pflag.FlagSet, v *viper.Viper) {
	flags.VisitAll(func(f *pflag.Flag) {
		if !f.Changed && v.IsSet(f.Name) {
			if err := flags.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil {
				log.Fatalf("can't apply config value %v to flag %s: %v", v.Get(f.Name), f.Name, err)
			}
		}
	})
}

func initFlags() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default is $HOME/%s.yaml)", defaultCfgFileName))
	pf.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warning, error")
	pf.IntVar(&opts.Detector.Trees, "trees", opts.Detector.Trees, "Number of isolation trees")
	pf.IntVar(&opts.Detector.SampleSize, "sample-size", opts.Detector.SampleSize, "Subsample cap per tree")
	pf.Float64Var(&opts.Detector.Threshold, "threshold", opts.Detector.Threshold, "Anomaly score threshold in (0, 1)")
	pf.Int64Var(&opts.Detector.RandomSeed, "seed", 0, "Random seed (0: unseeded)")
	pf.IntVar(&opts.Detector.Workers, "workers", opts.Detector.Workers, "Goroutines growing trees")
	pf.DurationVar(&opts.Window, "window", opts.Window, "History window")
	pf.IntVar(&opts.MinSamples, "min-samples", opts.MinSamples, "Fewest samples in the window, current one included, worth scoring")
	pf.StringVarP(&opts.Output, "output", "o", opts.Output, "Output format: text or json")

	rootCmd.AddCommand(scoreCmd, streamCmd, serveCmd, versionCmd)
}

func newAnalyzer() *heartrate.Analyzer {
	return heartrate.NewAnalyzer(
		iforest.New(iforest.WithConfig(opts.Detector)),
		heartrate.WithWindow(opts.Window),
		heartrate.WithMinSamples(opts.MinSamples),
	)
}

func main() {
	initFlags()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
