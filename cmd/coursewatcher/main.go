package main

import (
	"coursewatcher/cmd/coursewatcher/commands"
	"coursewatcher/lib/serviceutil"
	"coursewatcher/lib/telemetry"
)

func main() {
	ctx := serviceutil.SignalContext()
	telemetry.SetupFromEnv(ctx, "coursewatcher")
	telemetry.InstrumentPerfStats(ctx)
	commands.ExecuteContext(ctx)
}
