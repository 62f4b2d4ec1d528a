package config

import (
	"context"
	"log/slog"

	"github.com/grindlemire/graft"
	"go.trai.ch/keep/internal/logging"
)

// NodeID is the unique identifier for the config loader Graft node.
const NodeID graft.ID = "adapter.config_loader"

func init() {
	graft.Register(graft.Node[*Loader]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{logging.NodeID},
		Run: func(ctx context.Context) (*Loader, error) {
			log, err := graft.Dep[*slog.Logger](ctx)
			if err != nil {
				return nil, err
			}
			return NewLoader(log), nil
		},
	})
}
