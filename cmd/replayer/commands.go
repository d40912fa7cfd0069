package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rahul/replayer/internal/codec"
	"github.com/rahul/replayer/internal/observability"
	"github.com/rahul/replayer/internal/scheduler"
	"github.com/rahul/replayer/internal/script"
	"github.com/rahul/replayer/internal/store"
)

type loader func() (*app, error)

func newRunCmd(load loader) *cobra.Command {
	var (
		backend string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "run <id|name>",
		Short: "Replay a stored script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			sc, err := store.Find(a.store, args[0])
			if err != nil {
				return err
			}
			orch, b, err := a.orchestrator(backend)
			if err != nil {
				return err
			}
			defer b.Close()
			defer orch.Close()

			a.board.SetMode(observability.ModeRunning, sc.Name)
			stopStatus := a.liveStatus(cmd.Context(), 250*time.Millisecond)
			res, err := a.runAndRecord(cmd.Context(), orch, sc, scheduler.TriggerManual, a.board.SetProgress)
			stopStatus()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				if res.Output != "" {
					fmt.Fprintln(out, res.Output)
				}
				for _, shot := range res.Screenshots {
					fmt.Fprintln(out, "screenshot:", shot)
				}
			}
			if !res.Success {
				return fmt.Errorf("%s failed: %s", sc.Name, res.Error)
			}
			if !asJSON {
				fmt.Fprintf(out, "%s passed in %dms\n", sc.Name, res.DurationMs)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "browser backend (chromedp or rod); defaults to the config")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the execution result as JSON")
	return cmd
}

func newListCmd(load loader) *cobra.Command {
	var f struct{ tag, owner, status string }
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			scripts, err := a.store.List(store.Filter{Tag: f.tag, Owner: f.owner, Status: script.Status(f.status)})
			if err != nil {
				return err
			}
			writeScriptTable(cmd.OutOrStdout(), scripts)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.tag, "tag", "", "only scripts carrying this tag")
	cmd.Flags().StringVar(&f.owner, "owner", "", "only scripts owned by this user")
	cmd.Flags().StringVar(&f.status, "status", "", "only scripts in this status (draft, active, archived)")
	return cmd
}

func writeScriptTable(w io.Writer, scripts []script.Script) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tSTEPS\tRUNS\tSCHEDULE\tLAST RUN")
	for _, sc := range scripts {
		last := "-"
		if sc.LastExecutedAt != nil {
			last = sc.LastExecutedAt.Local().Format("2006-01-02 15:04")
		}
		every := "-"
		if sc.ScheduleSeconds > 0 {
			every = (time.Duration(sc.ScheduleSeconds) * time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			shortID(sc.ID), sc.Name, sc.Status, len(sc.Steps), sc.ExecutionCount, every, last)
	}
	tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newShowCmd(load loader) *cobra.Command {
	var history int
	cmd := &cobra.Command{
		Use:   "show <id|name>",
		Short: "Show a script's code and recent executions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			sc, err := store.Find(a.store, args[0])
			if err != nil {
				return err
			}
			code, err := a.store.Code(sc.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", sc.Name, sc.ID)
			fmt.Fprintf(out, "status: %s  runs: %d  tags: %s\n", sc.Status, sc.ExecutionCount, strings.Join(sc.Tags, ", "))
			if sc.BaseURL != "" {
				fmt.Fprintf(out, "base url: %s\n", sc.BaseURL)
			}
			fmt.Fprintln(out)
			fmt.Fprint(out, code)

			if history <= 0 {
				return nil
			}
			runs, err := a.store.ListExecutions(sc.ID, history)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tTRIGGER\tRESULT\tDURATION\tERROR")
			for _, r := range runs {
				result := "ok"
				if !r.Success {
					result = string(r.ErrorKind)
					if r.FailedStep > 0 {
						result = fmt.Sprintf("%s@%d", result, r.FailedStep)
					}
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%dms\t%s\n",
					r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Trigger, result, r.DurationMs, r.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&history, "history", 5, "number of recent executions to show")
	return cmd
}

func newImportCmd(load loader) *cobra.Command {
	var (
		name, baseURL, owner string
		tags                 []string
	)
	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Import a script from its textual action-script form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			steps, diag := codec.DecodeWithDiagnostics(string(data))
			if len(steps) == 0 {
				return errors.New("no recognised steps in input")
			}

			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()
			if diag.Dropped() > 0 {
				a.console.Warn("dropped unrecognised lines", "count", diag.Dropped(), "lines", diag.DroppedLines)
			}

			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
				if name == "-" {
					name = "imported script"
				}
			}
			id, err := a.store.Create(script.Script{
				Name:    name,
				BaseURL: baseURL,
				Owner:   owner,
				Tags:    tags,
				Steps:   steps,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %q as %s (%d steps)\n", name, id, len(steps))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "script name (defaults to the file name)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "URL the replay starts from")
	cmd.Flags().StringVar(&owner, "owner", "", "script owner")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag to attach (repeatable)")
	return cmd
}

func newExportCmd(load loader) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <id|name>",
		Short: "Write a script in its textual action-script form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			sc, err := store.Find(a.store, args[0])
			if err != nil {
				return err
			}
			code, err := a.store.Code(sc.ID)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), code)
				return err
			}
			return os.WriteFile(output, []byte(code), 0644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (default stdout)")
	return cmd
}

func newDeleteCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|name>",
		Short: "Delete a script and its execution history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			sc, err := store.Find(a.store, args[0])
			if err != nil {
				return err
			}
			if err := a.store.Delete(sc.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %q\n", sc.Name)
			return nil
		},
	}
}

func newScheduleCmd(load loader) *cobra.Command {
	var (
		every time.Duration
		off   bool
	)
	cmd := &cobra.Command{
		Use:   "schedule <id|name>",
		Short: "Replay a script periodically from the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !off && every < time.Second {
				return errors.New("--every must be at least 1s, or pass --off")
			}
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			sc, err := store.Find(a.store, args[0])
			if err != nil {
				return err
			}
			seconds := int(every / time.Second)
			patch := store.Patch{ScheduleSeconds: &seconds}
			if off {
				seconds = 0
			} else {
				active := script.StatusActive
				patch.Status = &active
			}
			if _, err := a.store.Update(sc.ID, patch); err != nil {
				return err
			}
			if off {
				fmt.Fprintf(cmd.OutOrStdout(), "%q is no longer scheduled\n", sc.Name)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%q runs every %s\n", sc.Name, time.Duration(seconds)*time.Second)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&every, "every", 0, "interval between runs, e.g. 15m")
	cmd.Flags().BoolVar(&off, "off", false, "remove the schedule")
	return cmd
}
