// Package config loads layered service configuration: base yaml, env yaml, then MINISHOP_ variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "MINISHOP_"

const (
	ServiceOrder     = "order"
	ServicePayment   = "payment"
	ServiceInventory = "inventory"
	ServiceAll       = "all"

	StoreMemory = "memory"
	StoreAWS    = "aws"
	StoreMySQL  = "mysql"

	EventsNone     = "none"
	EventsRabbitMQ = "rabbitmq"
	EventsKafka    = "kafka"
	EventsSQS      = "sqs"
)

type Config struct {
	App struct {
		Name          string `koanf:"name"`
		Env           string `koanf:"env"`
		Service       string `koanf:"service"`
		OrderAddr     string `koanf:"order_addr"`
		PaymentAddr   string `koanf:"payment_addr"`
		InventoryAddr string `koanf:"inventory_addr"`
	} `koanf:"app"`

	HTTP struct {
		ReadTimeout     time.Duration `koanf:"read_timeout"`
		WriteTimeout    time.Duration `koanf:"write_timeout"`
		IdleTimeout     time.Duration `koanf:"idle_timeout"`
		ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	} `koanf:"http"`

	Log struct {
		Level      string `koanf:"level"`
		File       string `koanf:"file"`
		MaxSizeMB  int    `koanf:"max_size_mb"`
		MaxBackups int    `koanf:"max_backups"`
		MaxAgeDays int    `koanf:"max_age_days"`
	} `koanf:"log"`

	Auth struct {
		JWTSecret      string `koanf:"jwt_secret"`
		Issuer         string `koanf:"issuer"`
		InternalSecret string `koanf:"internal_secret"`
	} `koanf:"auth"`

	Peers struct {
		OrderURL     string        `koanf:"order_url"`
		PaymentURL   string        `koanf:"payment_url"`
		InventoryURL string        `koanf:"inventory_url"`
		Timeout      time.Duration `koanf:"timeout"`
		Attempts     int           `koanf:"attempts"`
		Backoff      time.Duration `koanf:"backoff"`
		MaxBackoff   time.Duration `koanf:"max_backoff"`
	} `koanf:"peers"`

	Paymob struct {
		BaseURL       string `koanf:"base_url"`
		APIKey        string `koanf:"api_key"`
		IntegrationID int    `koanf:"integration_id"`
		IframeID      string `koanf:"iframe_id"`
		IframeBaseURL string `koanf:"iframe_base_url"`
		HMACSecret    string `koanf:"hmac_secret"`
		Currency      string `koanf:"currency"`
	} `koanf:"paymob"`

	Store struct {
		Driver string `koanf:"driver"`
	} `koanf:"store"`

	MySQL struct {
		DSN             string        `koanf:"dsn"`
		MaxOpenConns    int           `koanf:"max_open_conns"`
		MaxIdleConns    int           `koanf:"max_idle_conns"`
		ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	} `koanf:"mysql"`

	DynamoDB struct {
		Region        string `koanf:"region"`
		Endpoint      string `koanf:"endpoint"`
		ProductsTable string `koanf:"products_table"`
		PaymentsTable string `koanf:"payments_table"`
		GatewayIndex  string `koanf:"gateway_index"`
		OrderIndex    string `koanf:"order_index"`
	} `koanf:"dynamodb"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`

	Cache struct {
		ProductTTL time.Duration `koanf:"product_ttl"`
	} `koanf:"cache"`

	Idempotency struct {
		TTL     time.Duration `koanf:"ttl"`
		LockTTL time.Duration `koanf:"lock_ttl"`
	} `koanf:"idempotency"`

	Events struct {
		Driver   string `koanf:"driver"`
		RabbitMQ struct {
			URL      string `koanf:"url"`
			Exchange string `koanf:"exchange"`
		} `koanf:"rabbitmq"`
		Kafka struct {
			Brokers []string `koanf:"brokers"`
			Topic   string   `koanf:"topic"`
		} `koanf:"kafka"`
		SQS struct {
			QueueURL string `koanf:"queue_url"`
		} `koanf:"sqs"`
	} `koanf:"events"`

	Workers struct {
		SagaRecoveryInterval     time.Duration `koanf:"saga_recovery_interval"`
		NotifyRedeliveryInterval time.Duration `koanf:"notify_redelivery_interval"`
		BatchSize                int           `koanf:"batch_size"`
	} `koanf:"workers"`

	Catalog struct {
		Seed []SeedProduct `koanf:"seed"`
	} `koanf:"catalog"`
}

// SeedProduct preloads the in-memory inventory store.
type SeedProduct struct {
	ID                string   `koanf:"id"`
	Name              string   `koanf:"name"`
	Price             string   `koanf:"price"`
	Stock             int      `koanf:"stock"`
	LowStockThreshold int      `koanf:"low_stock_threshold"`
	Images            []string `koanf:"images"`
}

func Load(pathDir, envName string) (Config, error) {
	k := koanf.New(".")
	// 1) base
	if err := k.Load(file.Provider(fmt.Sprintf("%s/base.yaml", pathDir)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("config: load base: %w", err)
	}

	// 2) env override, optional for local runs
	if envName != "" {
		_ = k.Load(file.Provider(fmt.Sprintf("%s/%s.yaml", pathDir, envName)), yaml.Parser())
	}

	// 3) environment variables, nested with __ (MINISHOP_PAYMOB__API_KEY)
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("config: env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if envName != "" {
		cfg.App.Env = envName
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.App.Service {
	case ServiceOrder, ServicePayment, ServiceInventory, ServiceAll:
	default:
		errs = append(errs, fmt.Errorf("app.service %q must be order, payment, inventory or all", c.App.Service))
	}
	if c.Runs(ServiceOrder) && c.App.OrderAddr == "" {
		errs = append(errs, errors.New("app.order_addr required"))
	}
	if c.Runs(ServicePayment) && c.App.PaymentAddr == "" {
		errs = append(errs, errors.New("app.payment_addr required"))
	}
	if c.Runs(ServiceInventory) && c.App.InventoryAddr == "" {
		errs = append(errs, errors.New("app.inventory_addr required"))
	}
	if c.Auth.InternalSecret == "" {
		errs = append(errs, errors.New("auth.internal_secret required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret required"))
	}
	switch c.Store.Driver {
	case StoreMemory, StoreAWS, StoreMySQL:
	default:
		errs = append(errs, fmt.Errorf("store.driver %q must be memory, aws or mysql", c.Store.Driver))
	}
	if c.Store.Driver == StoreMySQL && c.MySQL.DSN == "" {
		errs = append(errs, errors.New("mysql.dsn required for the mysql store"))
	}
	switch c.Events.Driver {
	case "", EventsNone:
	case EventsRabbitMQ:
		if c.Events.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("events.rabbitmq.url required"))
		}
	case EventsKafka:
		if len(c.Events.Kafka.Brokers) == 0 || c.Events.Kafka.Topic == "" {
			errs = append(errs, errors.New("events.kafka.brokers and events.kafka.topic required"))
		}
	case EventsSQS:
		if c.Events.SQS.QueueURL == "" {
			errs = append(errs, errors.New("events.sqs.queue_url required"))
		}
	default:
		errs = append(errs, fmt.Errorf("events.driver %q must be none, rabbitmq, kafka or sqs", c.Events.Driver))
	}
	if c.Peers.Attempts < 1 {
		errs = append(errs, errors.New("peers.attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

// Runs reports whether this process hosts the named service.
func (c Config) Runs(service string) bool {
	return c.App.Service == ServiceAll || c.App.Service == service
}
