package cmd

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/zalouser/internal/channels/zalouser"
	"github.com/nextlevelbuilder/zalouser/internal/channels/zalouser/zca"
	"github.com/nextlevelbuilder/zalouser/internal/upgrade"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, zca login state and stored bindings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			z := cfg.Channels.ZaloUser

			fmt.Printf("Config:        %s\n", resolveConfigPath())
			if z.Enabled {
				fmt.Printf("Channel:       %s\n", color.GreenString("enabled"))
			} else {
				fmt.Printf("Channel:       %s\n", color.YellowString("disabled"))
			}
			fmt.Printf("Account:       %s\n", z.Account())
			fmt.Printf("DM policy:     %s\n", orDefault(z.DMPolicy, "allowlist"))
			fmt.Printf("Group policy:  %s\n", orDefault(z.GroupPolicy, "allowlist"))

			runner := zalouser.NewRunner(z)
			bin := orDefault(runner.Binary, zca.DefaultBinary)
			if _, err := exec.LookPath(bin); err != nil {
				fmt.Printf("zca:           %s\n", color.RedString("not found (%s)", bin))
			} else {
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				client := zca.NewClient(runner)
				if me, err := client.Me(ctx); err != nil {
					fmt.Printf("zca:           %s\n", color.RedString("not logged in (%v)", err))
				} else {
					fmt.Printf("zca:           %s\n", color.GreenString("logged in as %s (%s)", me.DisplayName, me.UserID))
				}
			}

			st, err := openBindingState(cfg)
			if err != nil {
				return err
			}
			defer st.closer.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			n := st.store.Load(ctx)
			fmt.Printf("Bindings:      %d live (%s)\n", n, st.location(cfg))
			if st.file == nil {
				s, err := upgrade.CheckSchema(st.location(cfg))
				if err != nil {
					return err
				}
				fmt.Printf("Schema:        v%d (required v%d)\n", s.CurrentVersion, s.RequiredVersion)
			}
			return nil
		},
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
