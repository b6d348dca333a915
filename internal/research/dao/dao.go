package dao

import (
	"context"

	"github.com/Laisky/zap"

	"github.com/contentstudio/research-engine/internal/research/model"
	"github.com/contentstudio/research-engine/library/log"
)

var (
	InstanceResearch *Research
	InstanceSources  *Sources
)

func Initialize(ctx context.Context) {
	model.Initialize(ctx)

	InstanceResearch = NewResearch(model.DB)
	InstanceSources = NewSources(model.DB)

	if err := InstanceSources.Seed(ctx); err != nil {
		log.Logger.Panic("seed data sources", zap.Error(err))
	}
}
