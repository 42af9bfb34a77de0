package config

import "time"

// Settings is the decoded shape of an eventcore.yaml file:
//
//	node_id: worker-1
//	router:
//	  max_concurrent_deliveries: 64
//	  delivery_confirmations: false
//	bus:
//	  history_capacity: 1000
//	broker:
//	  queue_size: 100
//	  history_size: 100
//	store:
//	  backend: sqlite     # or "memory"
//	  path: ./events.db
//	  retention:
//	    max_age: 168h
//	    max_count: 100000
type Settings struct {
	NodeID string
	Router RouterSettings
	Bus    BusSettings
	Broker BrokerSettings
	Store  StoreSettings
}

// RouterSettings configures the synchronous router.
type RouterSettings struct {
	MaxConcurrentDeliveries int
	DeliveryConfirmations   bool
}

// BusSettings configures the bounded-history bus.
type BusSettings struct {
	HistoryCapacity int
}

// BrokerSettings configures the message broker.
type BrokerSettings struct {
	QueueSize   int
	HistorySize int
}

// StoreSettings configures the durable event store.
type StoreSettings struct {
	Backend  string
	Path     string
	MaxAge   time.Duration
	MaxCount int
}

// Decode extracts Settings from a Config, filling defaults for missing
// keys.
func Decode(cfg Config) Settings {
	router := cfg.Section("router")
	bus := cfg.Section("bus")
	broker := cfg.Section("broker")
	store := cfg.Section("store")
	retention := store.Section("retention")

	return Settings{
		NodeID: cfg.String("node_id", "eventcore"),
		Router: RouterSettings{
			MaxConcurrentDeliveries: router.Int("max_concurrent_deliveries", 64),
			DeliveryConfirmations:   router.Bool("delivery_confirmations", false),
		},
		Bus: BusSettings{
			HistoryCapacity: bus.Int("history_capacity", 1000),
		},
		Broker: BrokerSettings{
			QueueSize:   broker.Int("queue_size", 100),
			HistorySize: broker.Int("history_size", broker.Int("queue_size", 100)),
		},
		Store: StoreSettings{
			Backend:  store.String("backend", "memory"),
			Path:     store.String("path", ""),
			MaxAge:   retention.Duration("max_age", 0),
			MaxCount: retention.Int("max_count", 0),
		},
	}
}

// LoadSettings loads and decodes an eventcore configuration file.
func LoadSettings(path string) (Settings, error) {
	cfg, err := FromFile(path)
	if err != nil {
		return Settings{}, err
	}
	return Decode(cfg), nil
}
