package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newHelperCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "helper",
		Short: "Inspect and configure the privileged browser helper",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show whether the helper is installed and enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			b := a.broker()
			st := b.Detect(cmd.Context())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "installed: %t\nenabled: %t\ncross-context: %t\n", st.Installed, st.Enabled, st.CanAccessCrossContext)
			if st.Version != "" {
				fmt.Fprintf(out, "version: %s\n", st.Version)
			}
			if !st.Installed {
				return nil
			}
			cfg, err := b.GetConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Mode != "" {
				fmt.Fprintf(out, "elevated for: %s\n", cfg.Mode)
			}
			printWhitelist(out, cfg.Whitelist)
			return nil
		},
	}

	whitelist := &cobra.Command{
		Use:   "whitelist",
		Short: "Show the URL patterns the helper may elevate on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			cfg, err := a.broker().GetConfig(cmd.Context())
			if err != nil {
				return err
			}
			printWhitelist(cmd.OutOrStdout(), cfg.Whitelist)
			return nil
		},
	}
	whitelist.AddCommand(
		&cobra.Command{
			Use:   "add <pattern>",
			Short: "Allow a URL glob, e.g. https://*.example.com/*",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := load()
				if err != nil {
					return err
				}
				defer a.Close()

				list, err := a.broker().AddToWhitelist(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printWhitelist(cmd.OutOrStdout(), list)
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <pattern>",
			Short: "Remove a URL glob",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := load()
				if err != nil {
					return err
				}
				defer a.Close()

				list, err := a.broker().RemoveFromWhitelist(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printWhitelist(cmd.OutOrStdout(), list)
				return nil
			},
		},
	)

	cmd.AddCommand(status, whitelist)
	return cmd
}

func printWhitelist(out io.Writer, patterns []string) {
	if len(patterns) == 0 {
		fmt.Fprintln(out, "whitelist: (empty, all URLs allowed)")
		return
	}
	fmt.Fprintf(out, "whitelist:\n  %s\n", strings.Join(patterns, "\n  "))
}
