package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pulseguard/pulseguard/pkg/detectors/iforest"
	"github.com/pulseguard/pulseguard/pkg/server"
	"github.com/pulseguard/pulseguard/pkg/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API for ingesting readings and analyzing subjects",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var history store.HistoryStore
		if opts.Redis.Addr != "" {
			rs, err := store.NewRedisStore(ctx, store.RedisOptions{
				Addr:      opts.Redis.Addr,
				Password:  opts.Redis.Password,
				DB:        opts.Redis.DB,
				Retention: opts.Window,
			})
			if err != nil {
				return err
			}
			log.WithField("addr", opts.Redis.Addr).Info("using redis history store")
			history = rs
		} else {
			log.Info("using in-memory history store")
			history = store.NewMemoryStore()
		}
		defer history.Close()

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		srv := server.New(server.Config{
			Store:      history,
			Detector:   iforest.New(iforest.WithConfig(opts.Detector)),
			Window:     opts.Window,
			MinSamples: opts.MinSamples,
			Registry:   reg,
		})
		return srv.ListenAndServe(ctx, opts.Server.Listen, opts.Server.ShutdownTimeout)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&opts.Server.Listen, "listen", opts.Server.Listen, "HTTP listen address")
	f.DurationVar(&opts.Server.ShutdownTimeout, "shutdown-timeout", opts.Server.ShutdownTimeout, "Graceful shutdown timeout")
	f.StringVar(&opts.Redis.Addr, "redis-addr", "", "Redis address for sample history (default: in-memory)")
	f.StringVar(&opts.Redis.Password, "redis-password", "", "Redis password")
	f.IntVar(&opts.Redis.DB, "redis-db", 0, "Redis database")
}
