package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/guard"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print the gateway bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ResolvePath(cfgFile))
			if err != nil {
				return err
			}
			tok, err := guard.LoadOrCreateToken(cfg.WorkspacePath())
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "rotate",
		Short: "Replace the gateway token with a fresh one",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ResolvePath(cfgFile))
			if err != nil {
				return err
			}
			tok, err := guard.RotateToken(cfg.WorkspacePath())
			if err != nil {
				return err
			}
			fmt.Println(tok)
			fmt.Fprintln(cmd.ErrOrStderr(), "token rotated; restart the kernel or reconnect clients")
			return nil
		},
	})

	return cmd
}
