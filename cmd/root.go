// Package cmd wires the cobra command tree: flags for site identity,
// listen address, the static peer list, and the optional export-file
// toggle (spec.md §6), matching the rootCmd()/RunE structuring pattern
// used across the retrieved pack's cobra-based daemons.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Polqt/rgaedit/internal/cli"
	"github.com/Polqt/rgaedit/internal/node"
)

// Options holds the parsed startup configuration.
type Options struct {
	SiteID string
	Listen string
	Peers  []string
	Export bool
	Once   string // non-interactive one-shot command, e.g. "show"
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var opts Options
	var peersCSV string

	root := &cobra.Command{
		Use:     "rgaedit",
		Short:   "Peer-to-peer collaborative plain-text editor over an RGA CRDT",
		Version: "0.1.0",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			peers, err := parsePeers(peersCSV)
			if err != nil {
				return errors.Wrap(err, "invalid --peers")
			}
			opts.Peers = peers
			return run(opts)
		},
	}

	root.Flags().StringVar(&opts.SiteID, "site-id", "", "unique site identifier (required)")
	root.Flags().StringVar(&opts.Listen, "listen", "127.0.0.1:0", "host:port to accept peer connections on")
	root.Flags().StringVar(&peersCSV, "peers", "", "comma-separated host:port list of peers to connect to")
	root.Flags().BoolVar(&opts.Export, "export", false, "write visible text to site_<id>.txt after every insert")
	root.Flags().StringVar(&opts.Once, "once", "", "run one command non-interactively (e.g. \"show\") and exit, instead of the REPL")
	_ = root.MarkFlagRequired("site-id")

	return root
}

func parsePeers(csv string) ([]string, error) {
	if strings.TrimSpace(csv) == "" {
		return nil, nil
	}
	var out []string
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, ":") {
			return nil, fmt.Errorf("peer address %q is not host:port", part)
		}
		out = append(out, part)
	}
	return out, nil
}

func run(opts Options) error {
	exportPath := ""
	if opts.Export {
		exportPath = node.DefaultExportPath(opts.SiteID)
	}

	n := node.New(opts.SiteID, exportPath)
	if err := n.Listen(opts.Listen); err != nil {
		return errors.Wrap(err, "listen")
	}
	n.ConnectPeers(opts.Peers)
	defer n.Stop()

	slog.Info("rgaedit: site started", "site_id", opts.SiteID, "listen", opts.Listen, "peers", opts.Peers)

	if opts.Once != "" {
		cli.Run(n, strings.NewReader(opts.Once+"\n"), os.Stdout)
		return nil
	}

	// A process-wide stop signal terminates the connector/acceptor loops
	// at their next iteration and closes all sockets (§5); in-flight
	// local operations complete and queued broadcasts are not flushed.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		cli.Run(n, os.Stdin, os.Stdout)
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		slog.Info("rgaedit: shutting down")
	}
	return nil
}
