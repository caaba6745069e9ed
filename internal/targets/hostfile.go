package targets

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadHostFile reads the static host-galaxy target list: CSV with three
// columns, name,ra_deg,dec_deg, one target per line. Parsing is strict
// — a blank line is an error, matching the original np.genfromtxt
// reader's behavior rather than encoding/csv's default of silently
// skipping blank lines (see DESIGN.md's Open Question decision).
func LoadHostFile(path string) (TargetSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out TargetSet
	line := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("hostfile: %s:%d: blank line not permitted", path, line)
		}

		cols := strings.Split(text, ",")
		if len(cols) != 3 {
			return nil, fmt.Errorf("hostfile: %s:%d: expected 3 columns, got %d", path, line, len(cols))
		}

		ra, err := strconv.ParseFloat(strings.TrimSpace(cols[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("hostfile: %s:%d: ra_deg: %w", path, line, err)
		}
		dec, err := strconv.ParseFloat(strings.TrimSpace(cols[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("hostfile: %s:%d: dec_deg: %w", path, line, err)
		}

		out = append(out, Target{Name: strings.TrimSpace(cols[0]), RADeg: ra, DecDeg: dec})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
