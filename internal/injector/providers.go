package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/replica/internal/config"
	"github.com/zeusync/replica/internal/core/observability/log"
	"github.com/zeusync/replica/internal/core/protocol/websocket"
	"github.com/zeusync/replica/internal/core/reachability"
	"github.com/zeusync/replica/internal/core/replica"
	"github.com/zeusync/replica/internal/core/storage/interfaces"
	"github.com/zeusync/replica/internal/core/storage/journal"
	"github.com/zeusync/replica/sdk/go/client"
)

var ProviderSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	ProvideTransport,
	ProvideNetwork,
	ProvideStorage,
	ProvideStore,
	ProvideClientConfig,
	client.New,
)

func ProvideLogger(cfg *config.Config) (*log.Logger, error) {
	return log.NewWithConfig(cfg.LogConfig())
}

func ProvideTransport(cfg *config.Config, logger log.Log) (*websocket.Transport, error) {
	return websocket.New(cfg.TransportConfig(), logger)
}

// ProvideNetwork returns a probing monitor, or an always-online stand-in
// when probing is disabled.
func ProvideNetwork(cfg *config.Config, logger log.Log) (client.Network, error) {
	if !cfg.Network.Enabled {
		return reachability.NewStatic(true), nil
	}
	return reachability.NewMonitor(cfg.NetworkConfig(), logger)
}

// ProvideStorage opens the journal. It returns nil storage when no journal
// path is configured.
func ProvideStorage(cfg *config.Config, logger log.Log) (interfaces.Storage, error) {
	if cfg.Journal.Path == "" {
		return nil, nil
	}
	return journal.Open(cfg.Journal.Path, logger)
}

func ProvideStore(cfg *config.Config, transport *websocket.Transport, network client.Network, logger log.Log) *replica.Store {
	return replica.New(transport,
		replica.WithConfig(cfg.ReplicaConfig()),
		replica.WithNetwork(network),
		replica.WithLogger(logger),
	)
}

func ProvideClientConfig(cfg *config.Config) client.Config {
	c := client.DefaultConfig()
	c.SaveInterval = cfg.Journal.SaveInterval.Std()
	return c
}
