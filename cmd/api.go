package cmd

import (
	"context"

	gconfig "github.com/Laisky/go-config/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"

	"github.com/contentstudio/research-engine/internal/web"
	"github.com/contentstudio/research-engine/library/log"
)

var apiCMD = &cobra.Command{
	Use:   "api",
	Short: "api",
	Long:  `research aggregation HTTP API`,
	Args:  gcmd.NoExtraArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := initialize(ctx, cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		web.RunServer(gconfig.Shared.GetString("listen"))
	},
}

func init() {
	rootCMD.AddCommand(apiCMD)
}
