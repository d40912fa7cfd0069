package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rahul/replayer/internal/executor"
	"github.com/rahul/replayer/internal/script"
	"github.com/rahul/replayer/internal/store"
)

// RunFunc replays a script and records the result.
type RunFunc func(ctx context.Context, sc script.Script) (executor.Result, error)

// Commands answers /list, /run and /help from chat.
type Commands struct {
	Scripts store.Lookup
	Run     RunFunc
}

const helpText = "Commands:\n/list [tag] lists stored scripts\n/run <id or name> replays a script\n/help shows this message"

func (c *Commands) Handle(ctx context.Context, chatID string, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	// Telegram appends @botname to commands in groups.
	cmd, _, _ := strings.Cut(fields[0], "@")
	args := fields[1:]

	switch cmd {
	case "/list":
		return c.list(args)
	case "/run":
		if len(args) == 0 {
			return "usage: /run <id or name>"
		}
		return c.run(ctx, strings.Join(args, " "))
	case "/help", "/start":
		return helpText
	default:
		if strings.HasPrefix(cmd, "/") {
			return "unknown command " + cmd + "\n" + helpText
		}
		return ""
	}
}

func (c *Commands) list(args []string) string {
	var f store.Filter
	if len(args) > 0 {
		f.Tag = args[0]
	}
	scripts, err := c.Scripts.List(f)
	if err != nil {
		return "could not list scripts: " + err.Error()
	}
	if len(scripts) == 0 {
		return "no scripts stored"
	}
	var b strings.Builder
	for _, sc := range scripts {
		fmt.Fprintf(&b, "%s  %s  [%s] %d steps\n", sc.ID[:min(8, len(sc.ID))], sc.Name, sc.Status, len(sc.Steps))
	}
	return "```\n" + strings.TrimRight(b.String(), "\n") + "\n```"
}

func (c *Commands) run(ctx context.Context, ref string) string {
	sc, err := store.Find(c.Scripts, ref)
	if err != nil {
		return err.Error()
	}
	res, err := c.Run(ctx, sc)
	if errors.Is(err, executor.ErrBusy) {
		return "another script is running, try again later"
	}
	if err != nil {
		return "run failed: " + err.Error()
	}
	return FormatReport(sc, res)
}
