package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sparkgoals/spark/internal/profile"
	"github.com/sparkgoals/spark/server/auth"
	"github.com/sparkgoals/spark/server/router/api/v1"
	"github.com/sparkgoals/spark/server/runner/syncer"
	"github.com/sparkgoals/spark/server/service/onboarding"
	"github.com/sparkgoals/spark/store"
	"github.com/sparkgoals/spark/store/db"
	"github.com/sparkgoals/spark/store/kv"
)

const (
	greetingBanner = `spark - resumable goal onboarding`
)

var rootCmd = &cobra.Command{
	Use:   "spark",
	Short: "A resumable goal onboarding service",
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: "0.1.0",
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			slog.Error("invalid configuration", "error", err)
			os.Exit(1)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := run(ctx, instanceProfile); err != nil {
			slog.Error("server exited", "error", err)
			os.Exit(1)
		}
	},
}

func run(ctx context.Context, instanceProfile *profile.Profile) error {
	dbDriver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		return err
	}

	storeInstance := store.New(dbDriver, instanceProfile)
	defer storeInstance.Close()
	if err := storeInstance.Migrate(ctx); err != nil {
		return err
	}

	localCache, err := kv.NewStore(filepath.Join(instanceProfile.Data, "spark_local.json"))
	if err != nil {
		return err
	}

	identityProvider := auth.NewLocalProvider(localCache)

	// Without a remote endpoint the runner never pushes, but it still
	// serves as the sync marker for newly materialized records.
	var pusher syncer.Pusher
	if instanceProfile.SyncURL != "" {
		pusher = syncer.NewHTTPPusher(instanceProfile.SyncURL)
	}
	syncRunner := syncer.NewRunner(storeInstance, pusher, time.Duration(instanceProfile.SyncIntervalSec)*time.Second)
	if pusher != nil {
		go syncRunner.Run(ctx)
		slog.Info("sync runner started", "url", instanceProfile.SyncURL, "interval_sec", instanceProfile.SyncIntervalSec)
	}

	onboardingService := onboarding.NewService(storeInstance, localCache, identityProvider, syncRunner)

	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true

	apiService := v1.NewAPIV1Service(instanceProfile, storeInstance, onboardingService)
	apiService.Register(echoServer)

	address := fmt.Sprintf("%s:%d", instanceProfile.Addr, instanceProfile.Port)
	go func() {
		slog.Info("server started", "address", address, "mode", instanceProfile.Mode)
		if err := echoServer.Start(address); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := echoServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down server", "error", err)
	}
	slog.Info("server stopped")
	return nil
}

func init() {
	rootCmd.PersistentFlags().String("mode", "demo", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8230, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("spark")
	viper.AutomaticEnv()
}

func main() {
	fmt.Println(greetingBanner)
	if err := rootCmd.Execute(); err != nil {
		slog.Error("failed to run command", "error", err)
		os.Exit(1)
	}
}
