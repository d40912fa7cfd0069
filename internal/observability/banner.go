package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	colorReset    = "\033[0m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

var radarFrames = []string{"◜", "◝", "◞", "◟"}

// termMu synchronizes ALL terminal output so that the cursor
// save/restore in PrintLiveStatus can never be interrupted by a log write.
var termMu sync.Mutex

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// termWriter is a mutex-guarded io.Writer for log output, so log lines
// never interleave with the status line's escape sequences.
type termWriter struct {
	w io.Writer
}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return tw.w.Write(p)
}

// NewTermWriter returns an io.Writer for the console logger.
func NewTermWriter() io.Writer {
	return termWriter{w: os.Stderr}
}

// PrintBanner writes the centered startup banner.
func PrintBanner(w io.Writer) {
	banner := `
    ____  __________  __    _____  ____________
   / __ \/ ____/ __ \/ /   /   \ \/ / ____/ __ \
  / /_/ / __/ / /_/ / /   / /| |\  / __/ / /_/ /
 / _, _/ /___/ ____/ /___/ ___ |/ / /___/ _, _/
/_/ |_/_____/_/   /_____/_/  |_/_/_____/_/ |_|

          >> RECORD · SCRIPT · REPLAY <<
`
	width := termWidth()
	for _, l := range strings.Split(banner, "\n") {
		padding := clamp((width-len([]rune(l)))/2, 0, width)
		fmt.Fprintf(w, "%s%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan, l, colorReset)
	}
}

// ProgressBar renders step/total as a fixed-width bar.
func ProgressBar(step, total, width int) string {
	if width <= 0 {
		width = 20
	}
	filled := 0
	if total > 0 {
		filled = clamp(step*width/total, 0, width)
	}
	return strings.Repeat("█", filled) + strings.Repeat("▒", width-filled)
}

// FormatStatus renders a one-line dashboard for s. Task text is cut to 40
// characters.
func FormatStatus(s Status, frame int, now time.Time) string {
	pulse := "HEALTHY"
	pulseColor := colorNeonCyan
	if delta := now.Sub(s.LastHeartbeat); delta >= 90*time.Second {
		pulse, pulseColor = "OFFLINE", colorNeonMag
	} else if delta >= 40*time.Second {
		pulse, pulseColor = "LAGGING", colorPurple
	}

	radar := " "
	if s.Mode != ModeIdle {
		radar = radarFrames[frame%len(radarFrames)]
	}

	task := s.ActiveTask
	if task == "" {
		task = "Waiting..."
	}
	if len(task) > 40 {
		task = task[:37] + "..."
	}

	return fmt.Sprintf("%s[%s] %s%-7s%s | %-9s %s%s%s %s %d/%d | %s",
		colorReset,
		s.LastHeartbeat.Format("15:04:05"),
		pulseColor, pulse, colorReset,
		s.Mode,
		colorPurple, radar, colorReset,
		ProgressBar(s.Step, s.TotalSteps, 20), s.Step, s.TotalSteps,
		task,
	)
}

// PrintLiveStatus rewrites the status line in place.
func PrintLiveStatus(board *StatusBoard, frame int) {
	line := FormatStatus(board.Snapshot(), frame, time.Now())
	termMu.Lock()
	fmt.Printf("\033[s\r\033[K%s\033[u", line)
	termMu.Unlock()
}
