package template

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// LookupFunc resolves a named lookup call (`file(...)`, `env(...)`, ...)
// against the control node's filesystem/environment/process facility.
// Paths are resolved relative to baseDir unless absolute, per §4.2.
type LookupFunc func(name string, args []any) (any, error)

// NewLookup returns the mandatory lookup table bound to baseDir (normally
// the playbook's directory).
func NewLookup(baseDir string) LookupFunc {
	table := map[string]func(args []any) (any, error){
		"file":        func(args []any) (any, error) { return lookupFile(baseDir, args) },
		"env":         lookupEnv,
		"pipe":        lookupPipe,
		"fileglob":    func(args []any) (any, error) { return lookupFileglob(baseDir, args) },
		"first_found": func(args []any) (any, error) { return lookupFirstFound(baseDir, args) },
		"items":       lookupItems,
		"dict":        lookupDict,
		"password":    func(args []any) (any, error) { return lookupPassword(baseDir, args) },
		"lines":       func(args []any) (any, error) { return lookupLines(baseDir, args) },
	}
	return func(name string, args []any) (any, error) {
		fn, ok := table[name]
		if !ok {
			return nil, fmt.Errorf("unknown lookup %q", name)
		}
		return fn(args)
	}
}

func resolvePath(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

func lookupFile(baseDir string, args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("file(path) requires one argument")
	}
	b, err := os.ReadFile(resolvePath(baseDir, toString(args[0]))) // nolint
	if err != nil {
		return nil, err
	}
	return strings.TrimRight(string(b), "\n"), nil
}

func lookupEnv(args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("env(name) requires one argument")
	}
	return os.Getenv(toString(args[0])), nil
}

func lookupPipe(args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("pipe(command) requires one argument")
	}
	cmd := exec.Command("sh", "-c", toString(args[0])) // nolint
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pipe command failed: %w: %s", err, errb.String())
	}
	return strings.TrimRight(out.String(), "\n"), nil
}

func lookupFileglob(baseDir string, args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("fileglob(pattern) requires one argument")
	}
	matches, err := filepath.Glob(resolvePath(baseDir, toString(args[0])))
	if err != nil {
		return nil, err
	}
	out := make([]any, len(matches))
	for i, m := range matches {
		out[i] = m
	}
	return out, nil
}

func lookupFirstFound(baseDir string, args []any) (any, error) {
	var candidates []any
	if len(args) == 1 {
		if list, ok := args[0].([]any); ok {
			candidates = list
		} else {
			candidates = args
		}
	} else {
		candidates = args
	}
	for _, c := range candidates {
		p := resolvePath(baseDir, toString(c))
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return nil, fmt.Errorf("none of the candidate paths exist")
}

func lookupItems(args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("items(list) requires one argument")
	}
	if list, ok := args[0].([]any); ok {
		return list, nil
	}
	return args, nil
}

func lookupDict(args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("dict(map) requires one argument")
	}
	m, ok := args[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("dict() requires a mapping argument")
	}
	out := make([]any, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, map[string]any{"key": k, "value": m[k]})
	}
	return out, nil
}

const passwordChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// lookupPassword reads a previously generated password from a file at path,
// generating and persisting a new random one on first use (Ansible's
// password lookup semantics).
func lookupPassword(baseDir string, args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("password(path) requires one argument")
	}
	path := resolvePath(baseDir, toString(args[0]))
	if b, err := os.ReadFile(path); err == nil { // nolint
		return strings.TrimRight(string(b), "\n"), nil
	}
	length := 20
	pw := make([]byte, length)
	for i := range pw {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(passwordChars))))
		if err != nil {
			return nil, err
		}
		pw[i] = passwordChars[n.Int64()]
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, append(pw, '\n'), 0o600); err != nil { // nolint
		return nil, err
	}
	return string(pw), nil
}

func lookupLines(baseDir string, args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("lines(path) requires one argument")
	}
	f, err := os.Open(resolvePath(baseDir, toString(args[0]))) // nolint
	if err != nil {
		return nil, err
	}
	defer f.Close() // nolint

	var out []any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
