package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func bindingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bindings",
		Short: "Inspect and edit persisted subagent bindings",
	}
	cmd.AddCommand(bindingsListCmd())
	cmd.AddCommand(bindingsUnbindCmd())
	cmd.AddCommand(bindingsPruneCmd())
	return cmd
}

func withBindings(fn func(ctx context.Context, st *bindingState) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openBindingState(cfg)
	if err != nil {
		return err
	}
	defer st.closer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	st.store.Load(ctx)
	return fn(ctx, st)
}

func bindingsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live bindings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBindings(func(_ context.Context, st *bindingState) error {
				recs := st.store.Snapshot()
				if len(recs) == 0 {
					fmt.Println("No bindings.")
					return nil
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ACCOUNT\tTO\tSESSION\tAGENT\tBOUND\tEXPIRES")
				for _, r := range recs {
					expires := "never"
					if r.ExpiresAt > 0 {
						expires = time.UnixMilli(r.ExpiresAt).Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						r.AccountID, r.To, r.ChildSessionKey, r.AgentID,
						time.UnixMilli(r.BoundAt).Format(time.RFC3339), expires)
				}
				return tw.Flush()
			})
		},
	}
}

func bindingsUnbindCmd() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "unbind <child-session-key>",
		Short: "Remove every binding of a child session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBindings(func(ctx context.Context, st *bindingState) error {
				removed := st.store.UnbindBySession(args[0], account)
				if err := st.store.Flush(ctx); err != nil {
					return fmt.Errorf("flush bindings: %w", err)
				}
				if len(removed) == 0 {
					color.Yellow("No bindings for session %s", args[0])
					return nil
				}
				color.Green("Removed %d binding(s) for session %s", len(removed), args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "restrict to one account id")
	return cmd
}

func bindingsPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Rewrite the snapshot without expired or invalid records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBindings(func(ctx context.Context, st *bindingState) error {
				live := st.store.Snapshot()
				if err := st.persister.Save(ctx, live); err != nil {
					return fmt.Errorf("save bindings: %w", err)
				}
				color.Green("Kept %d live binding(s)", len(live))
				return nil
			})
		},
	}
}
