package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/onnwee/kick-chat-monitor/db"
	"github.com/onnwee/kick-chat-monitor/triggers"
)

// storeOpener returns a store and a release function.
type storeOpener func(ctx context.Context) (db.ConfigStore, func(), error)

func newRootCmd(open storeOpener) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "triggerctl",
		Short: "Manage kick-chat-monitor triggers",
		Long: `triggerctl reads and writes the trigger list and the global monitoring switch
in the monitor's configuration store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// withStore runs fn against an opened store.
	withStore := func(cmd *cobra.Command, fn func(ctx context.Context, store db.ConfigStore) error) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		store, release, err := open(ctx)
		if err != nil {
			return err
		}
		defer release()
		return fn(ctx, store)
	}

	rootCmd.AddCommand(
		newListCmd(withStore),
		newExportCmd(withStore),
		newImportCmd(withStore),
		newToggleCmd("enable", true, withStore),
		newToggleCmd("disable", false, withStore),
	)
	return rootCmd
}

type storeRunner func(cmd *cobra.Command, fn func(ctx context.Context, store db.ConfigStore) error) error

func newListCmd(withStore storeRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store db.ConfigStore) error {
				cfg, err := store.Load(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				state := "enabled"
				if !cfg.Enabled {
					state = "disabled"
				}
				fmt.Fprintf(out, "monitoring %s, %d trigger(s)\n", state, len(cfg.Rules))
				if len(cfg.Rules) == 0 {
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tUSER\tCONDITION\tKEYWORD\tACTION\tDELAY\tENABLED")
				for _, r := range cfg.Rules {
					user := string(r.UserType)
					if r.UserType == triggers.UserSpecific {
						user = r.Username
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%dms\t%t\n",
						r.ID, r.Name, user, r.Condition, r.Keyword, r.Action, r.Delay, r.Enabled)
				}
				return tw.Flush()
			})
		},
	}
}

func newExportCmd(withStore storeRunner) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export triggers in the portable file format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store db.ConfigStore) error {
				cfg, err := store.Load(ctx)
				if err != nil {
					return err
				}
				data, err := triggers.Export(cfg.Rules)
				if err != nil {
					return err
				}
				if outPath == "" || outPath == "-" {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
					return err
				}
				if err := os.WriteFile(outPath, data, 0o600); err != nil {
					return fmt.Errorf("write %s: %w", outPath, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d trigger(s) to %s\n", len(cfg.Rules), outPath)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write to file instead of stdout (e.g. "+triggers.ExportFileName+")")
	return cmd
}

func newImportCmd(withStore storeRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Replace the trigger list with the contents of an exported file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			rules, err := triggers.Import(data)
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, store db.ConfigStore) error {
				if err := store.SaveTriggers(ctx, rules); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d trigger(s)\n", len(rules))
				return nil
			})
		},
	}
}

func newToggleCmd(name string, enabled bool, withStore storeRunner) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("%s chat monitoring", map[bool]string{true: "Enable", false: "Disable"}[enabled]),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store db.ConfigStore) error {
				if err := store.SetEnabled(ctx, enabled); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "monitoring %sd\n", name)
				return nil
			})
		},
	}
}
