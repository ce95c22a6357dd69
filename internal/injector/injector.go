//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/replica/internal/config"
	"github.com/zeusync/replica/sdk/go/client"
)

// InitializeClient builds a client and everything it depends on from cfg.
func InitializeClient(cfg *config.Config) (*client.Client, error) {
	wire.Build(ProviderSet)
	return nil, nil
}
