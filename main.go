package main

import (
	"log/slog"
	"os"

	"github.com/Polqt/rgaedit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		slog.Error("rgaedit: fatal", "err", err)
		os.Exit(1)
	}
}
