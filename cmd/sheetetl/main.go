// Command sheetetl loads "schema.table" sheets of a workbook into a
// relational database. See `sheetetl --help`.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"sheetetl/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Main(ctx)
	stop()
	os.Exit(code)
}
