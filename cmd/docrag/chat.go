package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"docrag/internal/session"
	"docrag/internal/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat [files or urls...]",
	Short: "Chat in the terminal",
	Long: `Open an interactive chat. Any files or URLs given are loaded first.

Commands:
  /load <path|url>  load a source
  /sources          list loaded sources
  /rag [on|off]     toggle retrieval
  /reset            forget sources and history
  /clear            clear the transcript
  /quit             exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, log, a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		sess := session.New(cfg.Session.SourceLimit)
		// the partition goes with the process
		defer func() {
			if err := a.Service.Reset(context.WithoutCancel(ctx), sess); err != nil {
				log.WithError(err).Error("clearing session partition")
			}
		}()

		p := tea.NewProgram(tui.New(ctx, a.Service, sess, args), tea.WithAltScreen())
		_, err = p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}
