package driver

import (
	"context"
	"fmt"
	"log/slog"

	"wa-recall/internal/driver/whatsapp"
)

// NewBuiltinRegistry constructs the runtime registry with all built-in drivers.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry([]Descriptor{
		{
			Type:     whatsapp.DriverType,
			Platform: whatsapp.DriverPlatform,
			Builder: func(
				ctx context.Context,
				definition Definition,
				builderLogger *slog.Logger,
			) (Runtime, error) {
				source, runtimeDriver, gateway, err := whatsapp.BuildRuntimeFromConfig(
					ctx,
					definition.Name,
					builderLogger,
					definition.Config,
				)
				if err != nil {
					return Runtime{}, fmt.Errorf("build whatsapp runtime from config: %w", err)
				}

				return Runtime{
					Source:         source,
					Driver:         runtimeDriver,
					SinkDispatcher: gateway,
					MediaFetcher:   gateway,
					Directory:      gateway,
					Identity:       gateway,
				}, nil
			},
		},
	})
}
