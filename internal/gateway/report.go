package gateway

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rahul/replayer/internal/executor"
	"github.com/rahul/replayer/internal/script"
)

const maxReportOutput = 3000

// FormatReport renders an execution summary as Telegram Markdown.
func FormatReport(sc script.Script, res executor.Result) string {
	var b strings.Builder
	name := tgbotapi.EscapeText(tgbotapi.ModeMarkdown, sc.Name)
	if res.Success {
		fmt.Fprintf(&b, "✅ *%s* passed in %s\n", name, formatMillis(res.DurationMs))
	} else {
		fmt.Fprintf(&b, "❌ *%s* failed", name)
		if res.FailedStep > 0 {
			fmt.Fprintf(&b, " at step %d", res.FailedStep)
		}
		if res.ErrorKind != "" {
			fmt.Fprintf(&b, " (%s)", res.ErrorKind)
		}
		b.WriteString("\n")
		if res.Error != "" {
			b.WriteString(tgbotapi.EscapeText(tgbotapi.ModeMarkdown, res.Error) + "\n")
		}
	}

	if out := strings.TrimSpace(res.Output); out != "" {
		if len(out) > maxReportOutput {
			out = "…" + out[len(out)-maxReportOutput:]
		}
		b.WriteString("```\n" + strings.ReplaceAll(out, "```", "'''") + "\n```\n")
	}
	if n := len(res.Screenshots); n > 0 {
		fmt.Fprintf(&b, "📸 %d screenshot(s) saved\n", n)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatMillis(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}
