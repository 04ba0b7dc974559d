package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/diewerk/toolledger/internal/audit"
	"github.com/diewerk/toolledger/internal/clock"
	"github.com/diewerk/toolledger/internal/config"
	"github.com/diewerk/toolledger/internal/factory"
	"github.com/diewerk/toolledger/internal/history"
	"github.com/diewerk/toolledger/internal/ingest"
	"github.com/diewerk/toolledger/internal/machinestate"
	"github.com/diewerk/toolledger/internal/migration"
	"github.com/diewerk/toolledger/internal/observability"
	"github.com/diewerk/toolledger/internal/plantmetrics"
	"github.com/diewerk/toolledger/internal/ratelimit"
	"github.com/diewerk/toolledger/internal/rollup"
	"github.com/diewerk/toolledger/internal/server"
	"github.com/diewerk/toolledger/internal/tool"
	"github.com/diewerk/toolledger/internal/toolimport"
	"github.com/diewerk/toolledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		ratelimit.Module,
		audit.Module,
		tool.Module,
		factory.Module,
		machinestate.Module,
		rollup.Module,
		ingest.Module,
		toolimport.Module,
		history.Module,
		plantmetrics.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
