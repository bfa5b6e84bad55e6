package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abdullathedruid/tabmux/internal/pane"
	"github.com/abdullathedruid/tabmux/internal/state"
)

func newInspectCmd(root *rootOptions) *cobra.Command {
	var (
		file   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the saved workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				cfg, _, err := loadConfig(root)
				if err != nil {
					return err
				}
				file = cfg.SessionFile
			}
			st, err := state.NewStore(file, nil).Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if st == nil {
				_, err := fmt.Fprintf(out, "no saved workspace at %s\n", file)
				return err
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			return printState(out, st)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "session file (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw session file")
	return cmd
}

func printState(w io.Writer, st *state.SessionState) error {
	var b strings.Builder
	for _, tab := range st.Tabs {
		marker := " "
		if st.ActiveTabID != nil && *st.ActiveTabID == tab.TabID {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s tab %d (%d panes)\n", marker, tab.TabID, pane.CountPanes(tab.Root))
		printNode(&b, st, tab, tab.Root, 1)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func printNode(b *strings.Builder, st *state.SessionState, tab pane.TabLayout, n pane.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	if n.Type == pane.KindSplit {
		fmt.Fprintf(b, "%s%s split\n", indent, n.Direction)
		for _, child := range n.Children {
			printNode(b, st, tab, child, depth+1)
		}
		return
	}
	focus := ""
	if n.PaneID == tab.ActivePaneID {
		focus = " (focused)"
	}
	cfg := st.SessionConfigs[n.SessionID]
	cmdline := strings.TrimSpace(cfg.Command + " " + strings.Join(cfg.Args, " "))
	fmt.Fprintf(b, "%spane %d session %d: %s", indent, n.PaneID, n.SessionID, cmdline)
	if cfg.Cwd != "" {
		fmt.Fprintf(b, " in %s", cfg.Cwd)
	}
	fmt.Fprintf(b, "%s\n", focus)
}
