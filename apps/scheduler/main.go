package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/lifecycle/internal/alert"
	"github.com/smallbiznis/lifecycle/internal/clock"
	"github.com/smallbiznis/lifecycle/internal/config"
	"github.com/smallbiznis/lifecycle/internal/events"
	"github.com/smallbiznis/lifecycle/internal/joblock"
	"github.com/smallbiznis/lifecycle/internal/notification"
	"github.com/smallbiznis/lifecycle/internal/observability"
	"github.com/smallbiznis/lifecycle/internal/organization"
	"github.com/smallbiznis/lifecycle/internal/referral"
	"github.com/smallbiznis/lifecycle/internal/retention"
	"github.com/smallbiznis/lifecycle/internal/scheduler"
	"github.com/smallbiznis/lifecycle/internal/settings"
	"github.com/smallbiznis/lifecycle/internal/subscription"
	"github.com/smallbiznis/lifecycle/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		events.Module,
		notification.Module,
		joblock.Module,
		settings.Module,
		organization.Module,
		subscription.Module,
		retention.Module,
		referral.Module,
		alert.Module,
		scheduler.Module,

		fx.Invoke(scheduler.Serve),
		fx.Invoke(ServeMetrics),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}

// ServeMetrics exposes the default prometheus registry on METRICS_ADDR.
func ServeMetrics(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) {
	if cfg.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server stopped", zap.Error(err))
				}
			}()
			log.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
