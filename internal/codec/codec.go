// Package codec converts step lists to and from the textual action-script
// format: a Playwright-style test body with one comment line and one call
// line per step.
package codec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rahul/replayer/internal/script"
)

const (
	defaultName   = "recorded script"
	closingLine   = "});"
	indent        = "  "
	defaultWaitMs = 1000
)

// RoleTarget formats a role-based locator target, e.g. role=button[name="Save"].
func RoleTarget(role, name string) string {
	return fmt.Sprintf(`role=%s[name="%s"]`, role, name)
}

var roleTarget = regexp.MustCompile(`^role=([a-z]+)\[name="(.*)"\]$`)

// Encode renders steps in replay order under a default header.
func Encode(steps []script.Step) string {
	return encode(defaultName, steps)
}

// EncodeScript renders a script's steps under a header carrying its name.
func EncodeScript(s script.Script) string {
	name := s.Name
	if name == "" {
		name = defaultName
	}
	return encode(name, s.Steps)
}

func encode(name string, steps []script.Step) string {
	sorted := make([]script.Step, len(steps))
	copy(sorted, steps)
	script.SortSteps(sorted)

	var b strings.Builder
	fmt.Fprintf(&b, "test('%s', async ({ page }) => {\n", name)
	for _, step := range sorted {
		call, ok := callLine(step)
		if !ok {
			continue
		}
		b.WriteString(indent + "// " + comment(step) + "\n")
		b.WriteString(indent + call + "\n")
	}
	b.WriteString(closingLine + "\n")
	return b.String()
}

// EncodeStep returns the call line for a single step, or false for an
// action the writer does not know.
func EncodeStep(step script.Step) (string, bool) {
	return callLine(step)
}

func callLine(s script.Step) (string, bool) {
	switch s.Action {
	case script.ActionGoto:
		return fmt.Sprintf("await page.goto('%s');", s.Target), true
	case script.ActionClick:
		if m := roleTarget.FindStringSubmatch(s.Target); m != nil {
			return fmt.Sprintf("await page.getByRole('%s', { name: '%s' }).click();", m[1], m[2]), true
		}
		return fmt.Sprintf("await page.click('%s');", s.Target), true
	case script.ActionFill:
		if m := roleTarget.FindStringSubmatch(s.Target); m != nil {
			return fmt.Sprintf("await page.getByRole('%s', { name: '%s' }).fill('%s');", m[1], m[2], s.Value), true
		}
		return fmt.Sprintf("await page.fill('%s', '%s');", s.Target, s.Value), true
	case script.ActionType:
		return fmt.Sprintf("await page.type('%s', '%s');", s.Target, s.Value), true
	case script.ActionSelect:
		return fmt.Sprintf("await page.selectOption('%s', '%s');", s.Target, s.Value), true
	case script.ActionWait:
		return fmt.Sprintf("await page.waitForTimeout(%d);", WaitMillis(s.Value)), true
	case script.ActionScreenshot:
		return fmt.Sprintf("await page.screenshot({ path: '%s' });", s.Target), true
	case script.ActionHover:
		return fmt.Sprintf("await page.hover('%s');", s.Target), true
	}
	return "", false
}

func comment(s script.Step) string {
	if d := strings.TrimSpace(s.Description); d != "" {
		return strings.ReplaceAll(d, "\n", " ")
	}
	switch s.Action {
	case script.ActionGoto:
		return "Navigate to " + s.Target
	case script.ActionClick:
		return "Click " + s.Target
	case script.ActionFill:
		return "Fill " + s.Target
	case script.ActionType:
		return "Type into " + s.Target
	case script.ActionSelect:
		return "Select option in " + s.Target
	case script.ActionWait:
		return fmt.Sprintf("Wait %dms", WaitMillis(s.Value))
	case script.ActionScreenshot:
		return "Take screenshot"
	case script.ActionHover:
		return "Hover " + s.Target
	}
	return string(s.Action)
}

// WaitMillis parses a wait step's value, defaulting to one second.
func WaitMillis(value string) int {
	ms, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || ms < 0 {
		return defaultWaitMs
	}
	return ms
}

var (
	gotoLine      = regexp.MustCompile(`^await page\.goto\('(.*)'\);?$`)
	clickLine     = regexp.MustCompile(`^await page\.click\('(.*)'\);?$`)
	fillLine      = regexp.MustCompile(`^await page\.fill\('(.*?)', '(.*)'\);?$`)
	roleClickLine = regexp.MustCompile(`^await page\.getByRole\('([a-z]+)', \{ name: '(.*)' \}\)\.click\(\);?$`)
	roleFillLine  = regexp.MustCompile(`^await page\.getByRole\('([a-z]+)', \{ name: '(.*?)' \}\)\.fill\('(.*)'\);?$`)
	headerLine    = regexp.MustCompile(`^test\(.*\{$`)
)

// Diagnostics describes what the decoder could not map back to a step.
type Diagnostics struct {
	// DroppedLines are 1-based line numbers of call lines that matched no
	// recognised template. Blank, header, comment and closing lines are
	// structural and never counted.
	DroppedLines []int
}

// Dropped is the number of unrecognised call lines.
func (d Diagnostics) Dropped() int { return len(d.DroppedLines) }

// Decode maps text back to steps. Only goto, click, fill and the role-based
// click/fill variants are recognised; every other line is silently dropped.
// Orders are assigned 1..n in text order.
func Decode(text string) []script.Step {
	steps, _ := DecodeWithDiagnostics(text)
	return steps
}

// DecodeWithDiagnostics is Decode plus a report of dropped call lines.
func DecodeWithDiagnostics(text string) ([]script.Step, Diagnostics) {
	var (
		steps []script.Step
		diag  Diagnostics
		order int
	)
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		step, ok := decodeLine(line)
		if !ok {
			if !structural(line) {
				diag.DroppedLines = append(diag.DroppedLines, i+1)
			}
			continue
		}
		order++
		step.Order = order
		step.ID = fmt.Sprintf("step-%d", order)
		steps = append(steps, step)
	}
	return steps, diag
}

func decodeLine(line string) (script.Step, bool) {
	if m := gotoLine.FindStringSubmatch(line); m != nil {
		return script.Step{Action: script.ActionGoto, Target: m[1]}, true
	}
	if m := clickLine.FindStringSubmatch(line); m != nil {
		return script.Step{Action: script.ActionClick, Target: m[1]}, true
	}
	if m := fillLine.FindStringSubmatch(line); m != nil {
		return script.Step{Action: script.ActionFill, Target: m[1], Value: m[2]}, true
	}
	if m := roleClickLine.FindStringSubmatch(line); m != nil {
		return script.Step{Action: script.ActionClick, Target: RoleTarget(m[1], m[2])}, true
	}
	if m := roleFillLine.FindStringSubmatch(line); m != nil {
		return script.Step{Action: script.ActionFill, Target: RoleTarget(m[1], m[2]), Value: m[3]}, true
	}
	return script.Step{}, false
}

func structural(line string) bool {
	return line == "" ||
		line == closingLine ||
		strings.HasPrefix(line, "//") ||
		strings.HasPrefix(line, "import ") ||
		headerLine.MatchString(line)
}
