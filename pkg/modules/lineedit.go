package modules

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/umputun/fleetplay/pkg/transport"
)

// lineInFileModule, blockInFileModule and replaceModule are regex-driven
// text editors that work by downloading the file, editing it locally, and
// re-uploading it if it changed. A sed-per-match/replace/append invocation
// is re-expressed here as Go string edits so the module can compute a diff
// and honor check mode without running anything remote until a change is
// confirmed.
type lineInFileModule struct {
	windows bool
}

func (m *lineInFileModule) Run(ctx context.Context, mctx *Context, args Args) (Result, error) {
	path := args.str("path")
	if path == "" {
		path = args.str("dest")
	}
	regex := args.str("regexp")
	line := args.str("line")
	state := args.str("state")
	if state == "" {
		state = "present"
	}

	before, err := readRemoteFile(ctx, mctx, path)
	if err != nil {
		return Result{}, err
	}
	lines := splitLines(before)

	var re *regexp.Regexp
	if regex != "" {
		re, err = regexp.Compile(regex)
		if err != nil {
			return Result{}, fmt.Errorf("invalid regexp %q: %w", regex, err)
		}
	}

	var out []string
	matched := false
	for _, l := range lines {
		if re != nil && re.MatchString(l) {
			matched = true
			if state == "absent" {
				continue // drop the line
			}
			out = append(out, line) // replace matched line
			continue
		}
		out = append(out, l)
	}
	if state == "present" && !matched && line != "" {
		insertAt := args.str("insertafter")
		if insertAt == "EOF" || insertAt == "" {
			out = append(out, line)
		} else {
			out = insertAfterPattern(out, insertAt, line)
		}
	}

	after := strings.Join(out, "\n")
	if strings.HasSuffix(before, "\n") && !strings.HasSuffix(after, "\n") {
		after += "\n"
	}

	return finishEdit(ctx, mctx, path, before, after, m.windows)
}

type blockInFileModule struct{}

func (m *blockInFileModule) Run(ctx context.Context, mctx *Context, args Args) (Result, error) {
	path := args.str("path")
	block := args.str("block")
	marker := args.str("marker")
	if marker == "" {
		marker = "# {mark} MANAGED BLOCK"
	}
	beginMark := strings.ReplaceAll(marker, "{mark}", "BEGIN")
	endMark := strings.ReplaceAll(marker, "{mark}", "END")
	state := args.str("state")
	if state == "" {
		state = "present"
	}

	before, err := readRemoteFile(ctx, mctx, path)
	if err != nil {
		return Result{}, err
	}
	lines := splitLines(before)

	startIdx, endIdx := -1, -1
	for i, l := range lines {
		if l == beginMark {
			startIdx = i
		}
		if l == endMark {
			endIdx = i
		}
	}

	var out []string
	switch {
	case startIdx >= 0 && endIdx > startIdx:
		out = append(out, lines[:startIdx]...)
		if state == "present" {
			out = append(out, beginMark)
			out = append(out, splitLines(block)...)
			out = append(out, endMark)
		}
		out = append(out, lines[endIdx+1:]...)
	case state == "present":
		out = append(out, lines...)
		out = append(out, beginMark)
		out = append(out, splitLines(block)...)
		out = append(out, endMark)
	default:
		out = lines
	}

	after := strings.Join(out, "\n") + "\n"
	return finishEdit(ctx, mctx, path, before, after, false)
}

type replaceModule struct{}

func (m *replaceModule) Run(ctx context.Context, mctx *Context, args Args) (Result, error) {
	path := args.str("path")
	regex := args.str("regexp")
	replacement := args.str("replace")
	if path == "" || regex == "" {
		return Result{}, fmt.Errorf("replace requires path and regexp")
	}
	re, err := regexp.Compile(regex)
	if err != nil {
		return Result{}, fmt.Errorf("invalid regexp %q: %w", regex, err)
	}

	before, err := readRemoteFile(ctx, mctx, path)
	if err != nil {
		return Result{}, err
	}
	after := re.ReplaceAllString(before, replacement)
	return finishEdit(ctx, mctx, path, before, after, false)
}

func readRemoteFile(ctx context.Context, mctx *Context, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	res, err := mctx.Conn.Run(ctx, catCommand(path), transport.RunOpts{Shell: transport.ShellPOSIX})
	if err != nil {
		return "", fmt.Errorf("can't read %s: %w", path, err)
	}
	if res.RC != 0 {
		return "", fmt.Errorf("can't read %s: %s", path, res.Stderr)
	}
	return res.Stdout, nil
}

func catCommand(path string) string {
	return fmt.Sprintf("cat %q 2>/dev/null || true", path)
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func insertAfterPattern(lines []string, pattern, newLine string) []string {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return append(lines, newLine)
	}
	for i, l := range lines {
		if re.MatchString(l) {
			out := make([]string, 0, len(lines)+1)
			out = append(out, lines[:i+1]...)
			out = append(out, newLine)
			out = append(out, lines[i+1:]...)
			return out
		}
	}
	return append(lines, newLine)
}

func finishEdit(ctx context.Context, mctx *Context, path, before, after string, windows bool) (Result, error) {
	if before == after {
		return Result{Changed: false}, nil
	}
	if mctx.CheckMode {
		res := Result{Changed: true, Skipped: true, Reason: "check mode: would rewrite " + path}
		if mctx.DiffMode {
			res.Diff = &Diff{Before: before, After: after, BeforeHeader: path, AfterHeader: path}
		}
		return res, nil
	}

	tmp, err := writeRemoteFile(ctx, mctx, path, after, windows)
	if err != nil {
		return Result{}, err
	}
	_ = tmp

	res := Result{Changed: true, Msg: "rewrote " + path}
	if mctx.DiffMode {
		res.Diff = &Diff{Before: before, After: after, BeforeHeader: path, AfterHeader: path}
	}
	return res, nil
}

func writeRemoteFile(ctx context.Context, mctx *Context, path, content string, windows bool) (string, error) {
	shell := transport.ShellPOSIX
	cmd := fmt.Sprintf("cat > %q", path)
	if windows {
		shell = transport.ShellPowerShell
		cmd = fmt.Sprintf("$input | Set-Content -NoNewline -LiteralPath %q", path)
	}
	res, err := mctx.Conn.Run(ctx, cmd, transport.RunOpts{Shell: shell, Stdin: []byte(content)})
	if err != nil {
		return "", fmt.Errorf("can't write %s: %w", path, err)
	}
	if res.RC != 0 {
		return "", fmt.Errorf("can't write %s: %s", path, res.Stderr)
	}
	return path, nil
}
