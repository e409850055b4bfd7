package predict

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/akhenakh/sgp4"
)

// ErrNoTLEs is returned when a TLE source holds no parseable element sets.
var ErrNoTLEs = errors.New("predict: no TLEs found")

// LoadTLEFile reads a constellation element-set file such as CelesTrak's
// iridium-NEXT group.
func LoadTLEFile(path string) ([]*sgp4.TLE, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("predict: read %s: %w", path, err)
	}
	return ParseTLEs(string(b))
}

// ParseTLEs extracts every element set from a bulk TLE text dump. Input may
// be in 3-line format (name, line 1, line 2) as served by CelesTrak, or bare
// 2-line sets.
func ParseTLEs(raw string) ([]*sgp4.TLE, error) {
	var lines []string
	for _, l := range strings.Split(strings.TrimSpace(raw), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	var out []*sgp4.TLE
	for i := 0; i+1 < len(lines); {
		var group string
		switch {
		case strings.HasPrefix(lines[i], "1 ") && strings.HasPrefix(lines[i+1], "2 "):
			group = lines[i] + "\n" + lines[i+1]
			i += 2
		case i+2 < len(lines) && strings.HasPrefix(lines[i+1], "1 ") && strings.HasPrefix(lines[i+2], "2 "):
			group = lines[i] + "\n" + lines[i+1] + "\n" + lines[i+2]
			i += 3
		default:
			i++
			continue
		}

		tle, err := sgp4.ParseTLE(group)
		if err != nil {
			continue
		}
		out = append(out, tle)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w in %d lines of input", ErrNoTLEs, len(lines))
	}
	return out, nil
}
