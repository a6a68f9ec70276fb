package main

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenmeter/internal/clock"
	"github.com/smallbiznis/tokenmeter/internal/config"
	"github.com/smallbiznis/tokenmeter/internal/migration"
	"github.com/smallbiznis/tokenmeter/internal/observability"
	"github.com/smallbiznis/tokenmeter/internal/server"
	"github.com/smallbiznis/tokenmeter/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Domains and HTTP surface
		server.Module,
	)
	app.Run()
}

// RegisterSnowflake uses SNOWFLAKE_NODE_ID so replicas never mint the same id.
func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.NodeID, err)
	}
	return node, nil
}
