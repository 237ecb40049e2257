// Command channelengine runs the message-routing server: it loads channel
// definitions from a directory of JSON files, builds their connectors and
// destination chains, and serves the REST control surface over HTTP.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fluxhealth/channelengine/api"
	"github.com/fluxhealth/channelengine/config"
	"github.com/fluxhealth/channelengine/engine"
	"github.com/fluxhealth/channelengine/recovery"
	"github.com/fluxhealth/channelengine/security"
	"github.com/fluxhealth/channelengine/store"
	"github.com/fluxhealth/channelengine/vmrouter"
)

var channelsDir string

var rootCmd = &cobra.Command{
	Use:   "channelengine",
	Short: "Run the channel engine server",
	RunE:  runServer,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&channelsDir, "channels-dir", "./channels", "directory of channel config JSON files")
	viper.BindPFlag("channels_dir", rootCmd.PersistentFlags().Lookup("channels-dir"))
	viper.SetEnvPrefix("CHANNELENGINE")
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg := config.LoadEngineConfig()
	if v := viper.GetString("channels_dir"); v != "" {
		channelsDir = v
	}

	gormDB, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("channelengine: open database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("channelengine: extract raw sql.DB: %w", err)
	}

	reg := newRegistry(gormDB, cfg.ServerID, cfg.QueueURL)
	if err := reg.loadDir(channelsDir); err != nil {
		return fmt.Errorf("channelengine: load channel configs: %w", err)
	}

	router := vmrouter.New(nil)
	eng := engine.New(reg.builder(sqlDB, router))
	router.Eng = eng

	deployCtx, deployCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer deployCancel()
	for id, entry := range reg.configs {
		if !entry.Enabled {
			continue
		}
		startOnDeploy := entry.Properties.InitialState == "" || entry.Properties.InitialState == "STARTED"
		if err := eng.Deploy(deployCtx, id, startOnDeploy); err != nil {
			log.Printf("channelengine: deploy %s: %v", id, err)
			continue
		}
		reg.recoverChannel(id, cfg.ServerID)
	}

	handlers := api.NewHandlers(eng, reg, security.NewJWTService(cfg.JWTSecret), []byte(cfg.ExportKey)).
		WithTrace(traceRegistry{reg: reg}, decodeSourceMap)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	api.SetupRoutes(e, handlers, cfg.JWTSecret, cfg.InternalAPIKey, api.BasicAuthConfig{
		Username:     cfg.OpsUsername,
		PasswordHash: cfg.OpsPasswordHash,
		Realm:        "channelengine-ops",
	})

	go func() {
		if err := e.Start(fmt.Sprintf(":%d", cfg.ListenPort)); err != nil && err != http.ErrServerClosed {
			log.Printf("channelengine: server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("channelengine: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.StopGracePeriod)
	defer shutdownCancel()
	for id := range reg.configs {
		if _, ok := eng.Get(id); ok {
			_ = eng.Undeploy(shutdownCtx, id)
		}
	}
	reg.queues.Close()
	return e.Shutdown(shutdownCtx)
}

// recoverChannel runs the unclean-shutdown recovery pass for one channel's
// store, logging but not failing deploy on a recovery error — a channel
// that can't recover its backlog still starts and accepts new traffic.
func (r *registry) recoverChannel(channelID, serverID string) {
	st, ok := r.Store(channelID)
	if !ok {
		return
	}
	sst, ok := st.(*store.Store)
	if !ok {
		return
	}
	result, err := recovery.Run(sst, func(fn func(recovery.DataStore) error) error {
		return sst.Transaction(func(tx *store.Store) error { return fn(tx) })
	}, serverID)
	if err != nil {
		log.Printf("channelengine: recovery %s: %v", channelID, err)
		return
	}
	if result.Recovered > 0 || len(result.Failed) > 0 {
		log.Printf("channelengine: recovery %s: scanned=%d recovered=%d failed=%d", channelID, result.Scanned, result.Recovered, len(result.Failed))
	}
}
