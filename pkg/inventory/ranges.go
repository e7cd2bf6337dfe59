package inventory

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// rangeToken matches one bracketed range expression: [low:high] or [low:high:stride].
var rangeToken = regexp.MustCompile(`\[([0-9]+|[a-zA-Z]):([0-9]+|[a-zA-Z])(?::(-?[0-9]+))?\]`)

// ExpandHosts expands a single inventory token such as "web[01:03]" or
// "db-[a:c].example.com" into the cross-product of its bracketed ranges, in
// left-to-right odometer order, preserving the zero-padding width of the
// low bound of each numeric range.
func ExpandHosts(token string) ([]string, error) {
	loc := rangeToken.FindStringSubmatchIndex(token)
	if loc == nil {
		return []string{token}, nil
	}

	prefix := token[:loc[0]]
	lowStr := token[loc[2]:loc[3]]
	highStr := token[loc[4]:loc[5]]
	strideStr := ""
	if loc[6] != -1 {
		strideStr = token[loc[6]:loc[7]]
	}
	rest := token[loc[1]:]

	items, err := expandOneRange(lowStr, highStr, strideStr)
	if err != nil {
		return nil, fmt.Errorf("invalid range in %q: %w", token, err)
	}

	restExpanded, err := ExpandHosts(rest)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(items)*len(restExpanded))
	for _, it := range items {
		for _, r := range restExpanded {
			out = append(out, prefix+it+r)
		}
	}
	return out, nil
}

func expandOneRange(lowStr, highStr, strideStr string) ([]string, error) {
	stride := 1
	if strideStr != "" {
		s, err := strconv.Atoi(strideStr)
		if err != nil {
			return nil, fmt.Errorf("bad stride %q: %w", strideStr, err)
		}
		if s == 0 {
			return nil, fmt.Errorf("stride must not be zero")
		}
		stride = s
	}

	if isAlpha(lowStr) && isAlpha(highStr) {
		return expandAlphaRange(lowStr[0], highStr[0], stride)
	}

	low, err := strconv.Atoi(lowStr)
	if err != nil {
		return nil, fmt.Errorf("bad low bound %q: %w", lowStr, err)
	}
	high, err := strconv.Atoi(highStr)
	if err != nil {
		return nil, fmt.Errorf("bad high bound %q: %w", highStr, err)
	}
	width := len(lowStr)

	var out []string
	if stride > 0 {
		for v := low; v <= high; v += stride {
			out = append(out, zeroPad(v, width))
		}
	} else {
		for v := low; v >= high; v += stride {
			out = append(out, zeroPad(v, width))
		}
	}
	return out, nil
}

func expandAlphaRange(low, high byte, stride int) ([]string, error) {
	var out []string
	if stride > 0 {
		for c := low; c <= high; c += byte(stride) {
			out = append(out, string(c))
			if c+byte(stride) < c { // overflow guard
				break
			}
		}
	} else {
		for c := low; c >= high; c += byte(stride) {
			out = append(out, string(c))
			if c == 0 {
				break
			}
		}
	}
	return out, nil
}

func isAlpha(s string) bool {
	if len(s) != 1 {
		return false
	}
	c := s[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func zeroPad(v, width int) string {
	s := strconv.Itoa(v)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	for len(s) < width {
		s = "0" + s
	}
	if neg {
		s = "-" + s
	}
	return s
}
