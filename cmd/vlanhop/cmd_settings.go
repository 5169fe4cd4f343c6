package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vlanhop/vlanhop/pkg/cli"
	"github.com/vlanhop/vlanhop/pkg/settings"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage persistent settings",
		Long: `Manage persistent settings stored in ~/.vlanhop/settings.json.

Settings:
  inventory  Inventory file used when -I is not given
  audit_log  Audit log file
  user       Name recorded in audit events (default $USER)
  parallel   Concurrent sessions for check

Examples:
  vlanhop settings show
  vlanhop settings set inventory /etc/vlanhop/campus.yaml
  vlanhop settings set parallel 16
  vlanhop settings clear`,
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load()
			if err != nil {
				return fmt.Errorf("loading settings: %w", err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Settings file: %s\n\n", settings.DefaultSettingsPath())

			effective := map[string]string{
				"inventory": s.GetInventory(),
				"audit_log": s.GetAuditLog(),
				"user":      s.GetUser(),
				"parallel":  fmt.Sprint(s.GetParallel()),
			}
			t := cli.NewTableTo(w, "SETTING", "VALUE", "EFFECTIVE")
			for _, key := range settings.Keys() {
				v, _ := s.Get(key)
				if v == "" {
					v = "(not set)"
				}
				t.Row(key, v, effective[key])
			}
			t.Flush()
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <setting> <value>",
		Short: "Set a setting value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load()
			if err != nil {
				s = &settings.Settings{}
			}
			if err := s.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := s.Save(); err != nil {
				return fmt.Errorf("saving settings: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s set to: %s\n", args[0], args[1])
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get <setting>",
		Short: "Get a setting value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load()
			if err != nil {
				return fmt.Errorf("loading settings: %w", err)
			}
			v, err := s.Get(args[0])
			if err != nil {
				return err
			}
			if v == "" {
				v = "(not set)"
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear all settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load()
			if err != nil {
				s = &settings.Settings{}
			}
			s.Clear()
			if err := s.Save(); err != nil {
				return fmt.Errorf("saving settings: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Settings cleared")
			return nil
		},
	}

	cmd.AddCommand(show, set, get, clearCmd)
	return cmd
}
