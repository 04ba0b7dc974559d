package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/diewerk/toolledger/internal/audit"
	"github.com/diewerk/toolledger/internal/clock"
	"github.com/diewerk/toolledger/internal/config"
	"github.com/diewerk/toolledger/internal/observability"
	"github.com/diewerk/toolledger/internal/reconcile"
	"github.com/diewerk/toolledger/internal/scheduler"
	"github.com/diewerk/toolledger/internal/tool"
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

		audit.Module,
		tool.Module,
		reconcile.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
