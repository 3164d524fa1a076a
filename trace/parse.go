// Package trace parses access traces and replays them against a cache
// controller, one step at a time.
package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// An Access is one replayed cache request.
type Access struct {
	IsWrite bool
	Address uint64

	// Data is the write payload, stored little-endian within the
	// configured word.
	Data uint64
}

// Parse reads a text trace: one access per line, either "R <addr>" or
// "W <addr> <data>". Numbers accept the 0x prefix. Blank lines and lines
// starting with # are skipped.
func Parse(r io.Reader) ([]Access, error) {
	var accesses []Access

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		access, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		accesses = append(accesses, access)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}

	return accesses, nil
}

// ParseFile parses the trace in the named file.
func ParseFile(path string) ([]Access, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

func parseLine(line string) (Access, error) {
	parts := strings.Fields(line)

	switch strings.ToUpper(parts[0]) {
	case "R":
		if len(parts) != 2 {
			return Access{}, fmt.Errorf("read takes one operand: %q", line)
		}

		addr, err := strconv.ParseUint(parts[1], 0, 64)
		if err != nil {
			return Access{}, fmt.Errorf("bad address %q: %w", parts[1], err)
		}

		return Access{Address: addr}, nil

	case "W":
		if len(parts) != 3 {
			return Access{}, fmt.Errorf("write takes two operands: %q", line)
		}

		addr, err := strconv.ParseUint(parts[1], 0, 64)
		if err != nil {
			return Access{}, fmt.Errorf("bad address %q: %w", parts[1], err)
		}

		data, err := strconv.ParseUint(parts[2], 0, 64)
		if err != nil {
			return Access{}, fmt.Errorf("bad data %q: %w", parts[2], err)
		}

		return Access{IsWrite: true, Address: addr, Data: data}, nil

	default:
		return Access{}, fmt.Errorf("unknown operation %q", parts[0])
	}
}
