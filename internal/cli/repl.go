// Package cli implements the interactive command shell described in
// spec.md §6: insert/delete/show/peers/quit over stdin. This is explicitly
// external/out-of-scope for the core engine, but is carried here in the
// teacher's REPL style (originally a plain stdin loop) so the module is
// runnable end to end.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Polqt/rgaedit/internal/node"
)

// Run drives the interactive shell against n, reading commands from in and
// writing output to out, until EOF or a "quit" command.
func Run(n *node.Node, in io.Reader, out io.Writer) {
	fmt.Fprintln(out, "Commands: insert <index> <char>, delete <index>, show [--all], peers, quit")
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := strings.ToLower(fields[0])

		switch cmd {
		case "insert":
			if len(fields) < 3 {
				fmt.Fprintln(out, "usage: insert <index> <char>")
				continue
			}
			idx, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Fprintln(out, "invalid index:", fields[1])
				continue
			}
			ch := strings.Join(fields[2:], " ")
			n.Insert(ch, idx)
			fmt.Fprintln(out, "visible:", n.VisibleText())

		case "delete":
			if len(fields) != 2 {
				fmt.Fprintln(out, "usage: delete <index>")
				continue
			}
			idx, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Fprintln(out, "invalid index:", fields[1])
				continue
			}
			if err := n.Delete(idx); err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			fmt.Fprintln(out, "visible:", n.VisibleText())

		case "show":
			fmt.Fprintln(out, "visible:", n.VisibleText())
			if len(fields) > 1 && fields[1] == "--all" {
				fmt.Fprintln(out, "full replica (including tombstones):")
				for _, c := range n.Snapshot() {
					fmt.Fprintf(out, "  %q id=%s deleted=%v\n", c.Value, c.ID.Site, c.Deleted)
				}
			}

		case "peers":
			peers := n.Peers()
			fmt.Fprintf(out, "%d attached peer(s):\n", len(peers))
			for _, p := range peers {
				fmt.Fprintf(out, "  %s (%s)\n", p.Addr, p.ID)
			}

		case "quit":
			return

		default:
			fmt.Fprintln(out, "unknown command:", cmd)
		}
	}
}
