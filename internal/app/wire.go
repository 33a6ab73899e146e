//go:build wireinject

package app

import (
	"github.com/google/wire"

	"github.com/snackshell/KeenAI-Quant/internal/config"
)

var providerSet = wire.NewSet(
	provideMetrics,
	provideJournal,
	provideHub,
	provideLiveService,
	provideBacktestService,
	provideBacktestRouter,
	provideLiveRouter,
	provideHTTPServer,
	provideApp,
)

func buildAppWithWire(cfg *config.Config) (*App, func(), error) {
	wire.Build(providerSet)
	return nil, nil, nil
}
