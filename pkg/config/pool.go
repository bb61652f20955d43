package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"ringkv/pkg/cluster"
)

// LoadPool reads the static node pool file.
func LoadPool(path string) ([]cluster.Member, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pool file: %w", err)
	}
	defer f.Close()
	return ParsePool(f)
}

// ParsePool parses "<name> <host> <port>" lines. Blank lines and lines
// starting with '#' are skipped. Names end up in coordination paths and
// admin frames, so '/' is rejected.
func ParsePool(r io.Reader) ([]cluster.Member, error) {
	var (
		members []cluster.Member
		seen    = map[string]struct{}{}
		sc      = bufio.NewScanner(r)
		lineNo  int
	)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("pool line %d: want <name> <host> <port>, got %q", lineNo, line)
		}
		if strings.Contains(fields[0], "/") || strings.Contains(fields[1], "/") {
			return nil, fmt.Errorf("pool line %d: name and host must not contain '/': %q", lineNo, line)
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("pool line %d: bad port %q", lineNo, fields[2])
		}
		if _, dup := seen[fields[0]]; dup {
			return nil, fmt.Errorf("pool line %d: duplicate name %q", lineNo, fields[0])
		}
		seen[fields[0]] = struct{}{}

		members = append(members, cluster.Member{Name: fields[0], Host: fields[1], Port: port})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read pool: %w", err)
	}
	return members, nil
}
