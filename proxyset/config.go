// Package proxyset manages one headless-browser vantage point per
// configured network egress (direct or through an OpenVPN tunnel),
// restarting crashed vantage points with exponential backoff and
// reporting online/offline transitions to a dispatcher.
package proxyset

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
)

// Method is a vantage point's network egress mechanism.
type Method string

const (
	MethodDirect Method = "direct"
	MethodOVPN   Method = "ovpn"
)

var labelPattern = regexp.MustCompile(`^[a-z]{2,3}(?:_[a-z0-9_]+)?$`)

// VantagePoint is one configured network egress: a label, a method, and
// (for ovpn) the OpenVPN config files that label round-robins across.
type VantagePoint struct {
	Label      string
	Method     Method
	OVPNConfig []string // expanded glob matches, consumed round-robin
}

// ParseConfig reads the line-oriented proxy configuration format: each
// non-comment, non-blank line is "label method args...". label matches
// [a-z]{2,3}(?:_[a-z0-9_]+)?. method is "direct" or "ovpn"; for "ovpn" the
// first arg is a glob pattern expanded to one or more OpenVPN configs.
func ParseConfig(r io.Reader) ([]VantagePoint, error) {
	var points []VantagePoint
	seen := map[string]bool{}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("proxyset: line %d: expected \"label method args...\", got %q", lineNo, line)
		}
		label, method := fields[0], Method(fields[1])

		if !labelPattern.MatchString(label) {
			return nil, fmt.Errorf("proxyset: line %d: invalid label %q", lineNo, label)
		}
		if seen[label] {
			return nil, fmt.Errorf("proxyset: line %d: duplicate label %q", lineNo, label)
		}
		seen[label] = true

		vp := VantagePoint{Label: label, Method: method}
		switch method {
		case MethodDirect:
			// No further args.
		case MethodOVPN:
			if len(fields) < 3 {
				return nil, fmt.Errorf("proxyset: line %d: ovpn requires a config glob pattern", lineNo)
			}
			matches, err := filepath.Glob(fields[2])
			if err != nil {
				return nil, fmt.Errorf("proxyset: line %d: bad glob %q: %w", lineNo, fields[2], err)
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("proxyset: line %d: glob %q matched no files", lineNo, fields[2])
			}
			vp.OVPNConfig = matches
		default:
			return nil, fmt.Errorf("proxyset: line %d: unknown method %q", lineNo, method)
		}

		points = append(points, vp)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("proxyset: reading config: %w", err)
	}
	return points, nil
}

// nextOVPNConfig returns the glob match at position n, wrapping around, for
// vantage points whose tunnel process needs to be restarted against the
// next config in rotation after a crash.
func (vp *VantagePoint) nextOVPNConfig(n int) string {
	if len(vp.OVPNConfig) == 0 {
		return ""
	}
	return vp.OVPNConfig[n%len(vp.OVPNConfig)]
}
