package router

import (
	"fmt"

	"google.golang.org/grpc"

	"github.com/DanrwAU/zenwifi/internal/core"
)

// RegisterPlugins registers plugin services and core services on the gRPC server.
func RegisterPlugins(server *grpc.Server, plugins []core.Plugin) error {
	if err := core.RegisterRegistryServer(server, core.NewRegistryService(plugins)); err != nil {
		return fmt.Errorf("register registry: %w", err)
	}

	for _, p := range plugins {
		p.RegisterGRPC(server)
	}
	return nil
}
