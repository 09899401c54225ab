package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/metrics"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/catalog"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/inventory"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/retry"
)

// services — прикладной слой поверх выбранного хранилища.
type services struct {
	engine  *lifecycle.Engine
	catalog *catalog.Service
}

// buildServices собирает склад, движок заказов и каталог.
// Kafka и кэш необязательны: без них события остаются в outbox, а чтения идут в хранилище.
func buildServices(
	cfg Config,
	deps *runtimeDependencies,
	bus *messaging,
	productCache catalog.Cache,
	orderMetrics *metrics.OrderMetrics,
	logger *log.Entry,
) *services {
	retryCfg := retry.DefaultConfig()
	if cfg.StockRetryAttempts > 0 {
		retryCfg.MaxAttempts = cfg.StockRetryAttempts
	}

	catalogOpts := []catalog.Option{
		catalog.WithRetryConfig(retryCfg),
		catalog.WithLogger(logger.WithField("layer", "catalog")),
	}
	if productCache != nil {
		catalogOpts = append(catalogOpts, catalog.WithCache(productCache))
	}
	catalogSvc := catalog.NewService(deps.products, deps.orders, deps.tx, catalogOpts...)

	ledger := inventory.NewLedger(deps.products,
		inventory.WithRetryConfig(retryCfg),
		inventory.WithMetrics(orderMetrics),
		inventory.WithLogger(logger.WithField("layer", "inventory")),
	)

	engineOpts := []lifecycle.Option{
		lifecycle.WithRetryConfig(retryCfg),
		lifecycle.WithMetrics(orderMetrics),
		lifecycle.WithLogger(logger.WithField("layer", "lifecycle")),
		lifecycle.WithStockChangeHook(catalogSvc.InvalidateProducts),
	}
	if bus != nil {
		engineOpts = append(engineOpts, lifecycle.WithPublisher(bus.lifecycle))
	}

	return &services{
		engine: lifecycle.NewEngine(
			deps.orders,
			deps.products,
			ledger,
			deps.tx,
			deps.outboxRepo,
			deps.timelineRepo,
			engineOpts...,
		),
		catalog: catalogSvc,
	}
}
