package config

import (
	"path/filepath"

	gconfig "github.com/Laisky/go-config/v2"
	"github.com/Laisky/zap"

	"github.com/contentstudio/research-engine/library/log"
)

func LoadFromFile(cfgPath string) {
	gconfig.Shared.Set("cfg_dir", filepath.Dir(cfgPath))
	if err := gconfig.Shared.LoadFromFile(cfgPath); err != nil {
		log.Logger.Panic("load configuration",
			zap.Error(err),
			zap.String("config", cfgPath))
	}

	log.Logger.Info("load configuration",
		zap.String("config", cfgPath))
}
