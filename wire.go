package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	appinventory "github.com/Zhima-Mochi/minishop-saga/internal/application/inventory"
	apporder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	apppayment "github.com/Zhima-Mochi/minishop-saga/internal/application/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/config"
	dominventory "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/saga"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/dynamo"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/jwtauth"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/mysql"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/paymob"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/peer"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/redisstore"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/relay"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/relay/kafka"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/relay/rabbitmq"
	relaysqs "github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/relay/sqs"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/id"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/retry"
	httppresentation "github.com/Zhima-Mochi/minishop-saga/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/minishop-saga/internal/presentation/worker"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// relayedEvents are forwarded to the broker when one is configured.
var relayedEvents = []string{
	"order.paid",
	"order.payment_failed",
	"order.reconciliation_required",
	"order.cancelled",
	"payment.succeeded",
	"payment.failed",
	"payment.callback_unmatched",
	"inventory.low_stock",
}

// stores holds one implementation per repository port, chosen by store.driver.
type stores struct {
	orders   domorder.Repository
	sagaLog  saga.Log
	tickets  saga.ReconciliationQueue
	products dominventory.Repository
	payments dompayment.Repository

	cache appinventory.ProductCache
	idem  appinventory.IdempotencyStore

	db  *sql.DB
	rdb *redis.Client
}

// openStores selects backends: mysql.dsn moves orders, the saga log and tickets to MySQL for the
// mysql and aws drivers; aws moves products and payments to DynamoDB. Redis is used whenever an
// address is configured.
func openStores(ctx context.Context, cfg config.Config, log observability.Logger) (*stores, error) {
	st := &stores{
		orders:   memory.NewOrderRepository(),
		sagaLog:  memory.NewSagaLog(),
		tickets:  memory.NewReconciliationQueue(),
		payments: memory.NewPaymentRepository(),
		idem:     memory.NewIdempotencyStore(cfg.Idempotency.TTL, cfg.Idempotency.LockTTL),
	}

	if cfg.Store.Driver != config.StoreMemory && cfg.MySQL.DSN != "" {
		db, err := mysql.Open(ctx, mysql.Options{
			DSN:             cfg.MySQL.DSN,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		if err := mysql.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		st.db = db
		st.orders = mysql.NewOrderRepository(db)
		st.sagaLog = mysql.NewSagaLog(db)
		st.tickets = mysql.NewReconciliationQueue(db)
		log.Info("store_selected", observability.F("orders", "mysql"))
	}

	if cfg.Store.Driver == config.StoreAWS {
		awsCfg, err := dynamo.LoadConfig(ctx, cfg.DynamoDB.Region)
		if err != nil {
			st.Close(log)
			return nil, err
		}
		client := dynamo.NewClient(awsCfg, cfg.DynamoDB.Endpoint)
		st.products = dynamo.NewProductStore(client, cfg.DynamoDB.ProductsTable)
		st.payments = dynamo.NewPaymentStore(client, cfg.DynamoDB.PaymentsTable, cfg.DynamoDB.GatewayIndex, cfg.DynamoDB.OrderIndex)
		log.Info("store_selected", observability.F("products", "dynamodb"), observability.F("payments", "dynamodb"))
	} else {
		seed, err := seedProducts(cfg.Catalog.Seed)
		if err != nil {
			st.Close(log)
			return nil, err
		}
		st.products = memory.NewInventoryRepository(seed...)
	}

	if cfg.Redis.Addr != "" {
		rdb, err := redisstore.Connect(ctx, redisstore.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			// The client redials on demand; until then the cache misses and keyed decrements fail closed.
			log.Warn("redis_unavailable_at_start", observability.F("error", err))
		}
		st.rdb = rdb
		st.cache = redisstore.NewProductCache(rdb)
		st.idem = redisstore.NewIdempotencyStore(rdb, cfg.Idempotency.TTL, cfg.Idempotency.LockTTL)
	}
	return st, nil
}

func (st *stores) Close(log observability.Logger) {
	if st.rdb != nil {
		if err := st.rdb.Close(); err != nil {
			log.Warn("redis_close_failed", observability.F("error", err))
		}
	}
	if st.db != nil {
		if err := st.db.Close(); err != nil {
			log.Warn("mysql_close_failed", observability.F("error", err))
		}
	}
}

func seedProducts(seed []config.SeedProduct) ([]*dominventory.Product, error) {
	out := make([]*dominventory.Product, 0, len(seed))
	for _, s := range seed {
		price, err := decimal.NewFromString(s.Price)
		if err != nil {
			return nil, fmt.Errorf("catalog seed %s: price: %w", s.ID, err)
		}
		p, err := dominventory.NewProduct(s.ID, s.Name, price, s.Stock, s.Images...)
		if err != nil {
			return nil, fmt.Errorf("catalog seed %s: %w", s.ID, err)
		}
		if s.LowStockThreshold > 0 {
			p.LowStockThreshold = s.LowStockThreshold
			p.RefreshLowStock()
		}
		out = append(out, p)
	}
	return out, nil
}

// openSink dials the configured broker, or returns nil when relaying is off.
func openSink(ctx context.Context, cfg config.Config) (relay.Sink, error) {
	ev := cfg.Events
	switch ev.Driver {
	case config.EventsRabbitMQ:
		return rabbitmq.Dial(ev.RabbitMQ.URL, ev.RabbitMQ.Exchange)
	case config.EventsKafka:
		return kafka.Dial(ev.Kafka.Brokers, ev.Kafka.Topic, cfg.App.Name+"-"+cfg.App.Service)
	case config.EventsSQS:
		awsCfg, err := dynamo.LoadConfig(ctx, cfg.DynamoDB.Region)
		if err != nil {
			return nil, err
		}
		return relaysqs.New(sqs.NewFromConfig(awsCfg), ev.SQS.QueueURL), nil
	case "", config.EventsNone:
		return nil, nil
	}
	return nil, errors.New("unknown events driver " + ev.Driver)
}

type workerSpec struct {
	runner   *workerpresentation.Runner
	worker   workerpresentation.Periodic
	interval time.Duration
}

type wiring struct {
	cfg     config.Config
	tel     observability.Observability
	stores  *stores
	bus     *outbox.Bus
	sink    relay.Sink
	metrics http.Handler
	log     observability.Logger
}

func (w *wiring) peerClient(name, baseURL, token string) *peer.Client {
	return peer.New(name, peer.Options{
		BaseURL:       baseURL,
		InternalToken: token,
		Timeout:       w.cfg.Peers.Timeout,
		Retry: retry.Policy{
			Attempts:   w.cfg.Peers.Attempts,
			Backoff:    w.cfg.Peers.Backoff,
			MaxBackoff: w.cfg.Peers.MaxBackoff,
		},
	})
}

func (w *wiring) server(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  w.cfg.HTTP.ReadTimeout,
		WriteTimeout: w.cfg.HTTP.WriteTimeout,
		IdleTimeout:  w.cfg.HTTP.IdleTimeout,
	}
}

// build composes every service this process hosts and returns its listeners and workers.
func (w *wiring) build() ([]*http.Server, []workerSpec) {
	var (
		servers []*http.Server
		workers []workerSpec
		runner  = workerpresentation.NewRunner(w.tel)
		idGen   = id.NewUUIDGenerator()
		st      = w.stores
		secret  = w.cfg.Auth.InternalSecret
	)

	if w.sink != nil {
		relay.NewForwarder(w.sink, w.cfg.App.Service, w.tel).Attach(w.bus, relayedEvents...)
	}

	if w.cfg.Runs(config.ServiceOrder) {
		inventory := peer.NewInventory(w.peerClient("inventory-service", w.cfg.Peers.InventoryURL, secret))
		payments := peer.NewPayments(w.peerClient("payment-service", w.cfg.Peers.PaymentURL, secret), paymob.Name)

		apply := apporder.NewApplyPaymentResultUseCase(st.orders, inventory, st.sagaLog, st.tickets, w.bus, idGen, w.tel)
		uc := httppresentation.OrderUseCases{
			Create:         apporder.NewCreateOrderUseCase(st.orders, inventory, st.sagaLog, idGen, w.tel),
			Initiate:       apporder.NewInitiatePaymentUseCase(st.orders, payments, st.sagaLog, w.cfg.Paymob.Currency, w.tel),
			ApplyPayment:   apply,
			UpdateStatus:   apporder.NewUpdateOrderStatusUseCase(st.orders, st.tickets, w.bus, idGen, w.tel),
			Queries:        apporder.NewQueryUseCase(st.orders, w.tel),
			Reconciliation: apporder.NewReconciliationUseCase(st.tickets, w.tel),
		}
		verifier := jwtauth.NewVerifier(w.cfg.Auth.JWTSecret, w.cfg.Auth.Issuer)
		mw := httppresentation.NewMiddleware("order-service", w.tel)
		servers = append(servers, w.server(w.cfg.App.OrderAddr, httppresentation.NewOrderRouter(uc, verifier, secret, mw, w.metrics)))

		interval := w.cfg.Workers.SagaRecoveryInterval
		workers = append(workers, workerSpec{
			runner:   runner,
			worker:   apporder.NewRecoveryWorker(st.sagaLog, apply, interval, w.tel),
			interval: interval,
		})
	}

	if w.cfg.Runs(config.ServicePayment) {
		gateway := paymob.New(w.peerClient(paymob.Name, w.cfg.Paymob.BaseURL, ""), paymob.Config{
			APIKey:        w.cfg.Paymob.APIKey,
			IntegrationID: w.cfg.Paymob.IntegrationID,
			IframeID:      w.cfg.Paymob.IframeID,
			IframeBaseURL: w.cfg.Paymob.IframeBaseURL,
			HMACSecret:    w.cfg.Paymob.HMACSecret,
		})
		if w.cfg.Paymob.HMACSecret == "" {
			w.log.Warn("paymob_hmac_disabled")
		}
		notifier := peer.NewOrders(w.peerClient("order-service", w.cfg.Peers.OrderURL, secret))

		uc := httppresentation.PaymentUseCases{
			Initiate: apppayment.NewInitiatePaymentUseCase(st.payments, gateway, st.idem, idGen, w.cfg.Paymob.Currency, w.tel),
			Callback: apppayment.NewHandleCallbackUseCase(st.payments, gateway, notifier, w.bus, w.tel),
		}
		mw := httppresentation.NewMiddleware("payment-service", w.tel)
		servers = append(servers, w.server(w.cfg.App.PaymentAddr, httppresentation.NewPaymentRouter(uc, secret, mw, w.metrics)))

		workers = append(workers, workerSpec{
			runner:   runner,
			worker:   apppayment.NewRedeliveryWorker(st.payments, notifier, w.cfg.Workers.BatchSize, w.tel),
			interval: w.cfg.Workers.NotifyRedeliveryInterval,
		})
	}

	if w.cfg.Runs(config.ServiceInventory) {
		appinventory.NewLowStockWatcher(w.bus, st.cache, w.tel).Start()
		uc := httppresentation.InventoryUseCases{
			GetProduct: appinventory.NewGetProductUseCase(st.products, st.cache, w.cfg.Cache.ProductTTL, w.tel),
			Decrease:   appinventory.NewDecreaseStockUseCase(st.products, st.cache, st.idem, w.bus, w.tel),
		}
		mw := httppresentation.NewMiddleware("inventory-service", w.tel)
		servers = append(servers, w.server(w.cfg.App.InventoryAddr, httppresentation.NewInventoryRouter(uc, secret, mw, w.metrics)))
	}
	return servers, workers
}
