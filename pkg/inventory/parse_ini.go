package inventory

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseINI parses the line-oriented sections inventory format:
//
//	[group]
//	host1 ansible_host=10.0.0.1 ansible_port=2222
//
//	[group:children]
//	other_group
//
//	[group:vars]
//	key=value
//
// Host lines support the host-range expansion tokens handled by ExpandHosts.
func ParseINI(r io.Reader, fname string) (*Inventory, error) {
	inv := New()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	section := AllGroup
	sectionKind := "hosts" // "hosts", "children", "vars"
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			name := strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
			switch {
			case strings.HasSuffix(name, ":children"):
				section = strings.TrimSuffix(name, ":children")
				sectionKind = "children"
			case strings.HasSuffix(name, ":vars"):
				section = strings.TrimSuffix(name, ":vars")
				sectionKind = "vars"
			default:
				section = name
				sectionKind = "hosts"
			}
			if section == AllGroup && sectionKind != "vars" {
				return nil, &ParseError{File: fname, Line: lineNo, Msg: `group "all" is reserved for all hosts`}
			}
			inv.ensureGroup(section)
			continue
		}

		switch sectionKind {
		case "children":
			inv.addChild(section, line)
		case "vars":
			k, v, err := splitKV(line)
			if err != nil {
				return nil, &ParseError{File: fname, Line: lineNo, Msg: err.Error()}
			}
			inv.ensureGroup(section).Vars[k] = v
		case "hosts":
			names, fields, err := parseHostLine(line)
			if err != nil {
				return nil, &ParseError{File: fname, Line: lineNo, Msg: err.Error()}
			}
			for _, name := range names {
				h, err := hostFromFields(name, fields)
				if err != nil {
					return nil, &ParseError{File: fname, Line: lineNo, Msg: err.Error()}
				}
				inv.addHost(h, section)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read inventory %s: %w", fname, err)
	}

	if err := inv.finalize(); err != nil {
		return nil, err
	}
	return inv, nil
}

// parseHostLine splits a host declaration line into the (possibly
// range-expanded) host names and the trailing key=value fields. Values
// containing spaces are supported via matching quotes.
func parseHostLine(line string) (names []string, fields map[string]string, err error) {
	tokens, err := tokenizeQuoted(line)
	if err != nil {
		return nil, nil, err
	}
	if len(tokens) == 0 {
		return nil, nil, fmt.Errorf("empty host line")
	}

	names, err = ExpandHosts(tokens[0])
	if err != nil {
		return nil, nil, err
	}

	fields = map[string]string{}
	for _, tok := range tokens[1:] {
		k, v, err := splitKV(tok)
		if err != nil {
			return nil, nil, err
		}
		fields[k] = v
	}
	return names, fields, nil
}

// tokenizeQuoted splits a line on whitespace, treating 'single' or "double"
// quoted runs (which may contain spaces) as a single token.
func tokenizeQuoted(line string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	var quote byte
	inTok := false

	flush := func() {
		if inTok {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inTok = false
		}
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
				continue
			}
			cur.WriteByte(c)
		case c == '\'' || c == '"':
			quote = c
			inTok = true
		case c == ' ' || c == '\t':
			flush()
		default:
			cur.WriteByte(c)
			inTok = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in line %q", line)
	}
	flush()
	return tokens, nil
}

func splitKV(tok string) (key, val string, err error) {
	idx := strings.Index(tok, "=")
	if idx < 0 {
		return "", "", fmt.Errorf("expected key=value, got %q", tok)
	}
	return strings.TrimSpace(tok[:idx]), strings.TrimSpace(tok[idx+1:]), nil
}

// hostFromFields builds a Host from the recognized ansible_* keys plus any
// remaining keys stored verbatim as host variables.
func hostFromFields(name string, fields map[string]string) (*Host, error) {
	h := &Host{Name: name, Transport: "ssh", Vars: map[string]string{}}
	for k, v := range fields {
		switch k {
		case "ansible_host":
			h.Addr = v
		case "ansible_port":
			p, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("bad ansible_port %q for host %s: %w", v, name, err)
			}
			h.Port = p
		case "ansible_user":
			h.User = v
		case "ansible_password", "ansible_ssh_pass":
			h.Password = v
		case "ansible_ssh_private_key_file":
			h.KeyPath = v
		case "ansible_shell_type":
			h.Shell = v
		case "ansible_connection":
			h.Transport = normalizeTransport(v)
		default:
			h.Vars[k] = v
		}
	}
	if h.Addr == "" {
		h.Addr = name
	}
	return h, nil
}

func normalizeTransport(v string) string {
	switch v {
	case "local":
		return "local"
	case "winrm":
		return "winrm"
	default:
		return "ssh"
	}
}
