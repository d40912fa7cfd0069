package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rahul/replayer/internal/browser"
	"github.com/rahul/replayer/internal/codec"
	"github.com/rahul/replayer/internal/observability"
	"github.com/rahul/replayer/internal/recorder"
	"github.com/rahul/replayer/internal/script"
)

const recordHelp = "recording: w [ms] inserts a wait, s a screenshot, q stops (Ctrl+C also stops)"

func newRecordCmd(load loader) *cobra.Command {
	var (
		name, owner string
		tags        []string
		headless    bool
	)
	cmd := &cobra.Command{
		Use:   "record <url>",
		Short: "Record interactions in a browser tab and save them as a script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			startURL := args[0]
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if observability.IsTerminal() {
				observability.PrintBanner(os.Stderr)
			}

			// Recording always uses chromedp: it needs the CDP runtime binding.
			opts := a.browserOptions()
			opts.Headless = headless
			launcher := browser.NewCDPLauncher(opts)
			defer launcher.Close()

			source := launcher.EventSource(startURL)
			rec := recorder.New(source, recorder.Options{
				Broker:  a.broker(),
				Journal: a.journal,
				Logger:  a.console,
			})
			if err := rec.Start(ctx); err != nil {
				return err
			}
			a.board.SetMode(observability.ModeRecording, startURL)
			fmt.Fprintln(out, recordHelp)

			lines := make(chan string)
			done := make(chan struct{})
			defer close(done)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					select {
					case lines <- scanner.Text():
					case <-done:
						return
					}
				}
			}()

			// Without input the recording runs until interrupted.
			input := (<-chan string)(lines)
		loop:
			for {
				select {
				case <-ctx.Done():
					break loop
				case line, ok := <-input:
					if !ok {
						input = nil
						continue
					}
					if stop := handleRecordInput(rec, line, out); stop {
						break loop
					}
				}
			}

			// Name from the page as it is now, before the tab goes away.
			snapCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			html, pageURL, err := source.Snapshot(snapCtx)
			cancel()
			if err != nil {
				a.console.Debug("page snapshot failed", "error", err)
				pageURL = startURL
			}

			steps, err := rec.Stop(context.WithoutCancel(ctx), func(s script.Step) {
				if call, ok := codec.EncodeStep(s); ok {
					fmt.Fprintln(out, "  "+call)
				}
			})
			a.board.SetMode(observability.ModeIdle, "")
			if err != nil {
				return err
			}
			if len(steps) == 0 {
				return errors.New("nothing was recorded")
			}

			if name == "" {
				name = recorder.SuggestName(html, pageURL)
			}
			id, err := a.store.Create(script.Script{
				Name:    name,
				BaseURL: startURL,
				Owner:   owner,
				Tags:    tags,
				Steps:   steps,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "saved %q as %s (%d steps)\n", name, id, len(steps))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "script name (defaults to the page title)")
	cmd.Flags().StringVar(&owner, "owner", "", "script owner")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag to attach (repeatable)")
	cmd.Flags().BoolVar(&headless, "headless", false, "record without a visible browser window")
	return cmd
}

// handleRecordInput applies one line of operator input and reports whether
// recording should stop.
func handleRecordInput(rec *recorder.Recorder, line string, out io.Writer) bool {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "q", "quit", "stop":
		return true
	case "w", "wait":
		ms := 0
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Fprintf(out, "bad wait %q\n", fields[1])
				return false
			}
			ms = n
		}
		if err := rec.InsertWait(ms); err != nil {
			fmt.Fprintln(out, err)
		}
	case "s", "shot", "screenshot":
		if err := rec.InsertScreenshot(); err != nil {
			fmt.Fprintln(out, err)
		}
	default:
		fmt.Fprintln(out, recordHelp)
	}
	return false
}
