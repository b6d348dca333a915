package cmd

import (
	"context"
	"fmt"
	"time"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	gutils "github.com/Laisky/go-utils/v6"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	glog "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"

	"github.com/contentstudio/research-engine/internal/research/controller"
	"github.com/contentstudio/research-engine/library/config"
	"github.com/contentstudio/research-engine/library/log"
)

var rootCMD = &cobra.Command{
	Use:   "research-engine",
	Short: "research-engine",
	Long:  `research aggregation and caching API service`,
	Args:  gcmd.NoExtraArgs,
}

func initialize(ctx context.Context, cmd *cobra.Command) error {
	if err := gconfig.Shared.BindPFlags(cmd.Flags()); err != nil {
		return errors.Wrap(err, "bind pflags")
	}

	setupSettings(ctx)
	setupLogger(ctx)

	if err := validateStartupConfig(); err != nil {
		return errors.Wrap(err, "validate startup config")
	}

	setupModules(ctx)

	return nil
}

func setupModules(ctx context.Context) {
	controller.Initialize(ctx)
}

func setupSettings(ctx context.Context) {
	// mode
	if gconfig.Shared.GetBool("debug") {
		fmt.Println("run in debug mode")
		gconfig.Shared.Set("log-level", "debug")
	} else { // prod mode
		fmt.Println("run in prod mode")
	}

	// clock
	gutils.SetInternalClock(100 * time.Millisecond)

	// load configuration
	cfgPath := gconfig.Shared.GetString("config")
	config.LoadFromFile(cfgPath)
}

func setupLogger(ctx context.Context) {
	lvl := gconfig.Shared.GetString("log-level")
	if err := log.Logger.ChangeLevel(glog.Level(lvl)); err != nil {
		log.Logger.Panic("change log level", zap.Error(err), zap.String("level", lvl))
	}
}

func init() {
	rootCMD.PersistentFlags().Bool("debug", false, "run in debug mode")
	rootCMD.PersistentFlags().String("listen", "localhost:8080", "like `localhost:8080`")
	rootCMD.PersistentFlags().StringP("config", "c", "/etc/research-engine/settings.yml", "config file path")
	rootCMD.PersistentFlags().String("log-level", "info", "`debug/info/error`")
}

// Execute execute root command
func Execute() {
	if err := rootCMD.Execute(); err != nil {
		glog.Shared.Panic("start", zap.Error(err))
	}
}
