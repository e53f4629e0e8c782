package bsdl

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrNoBoundary is returned by BoundaryCells when the entity declares no
// BOUNDARY_REGISTER.
var ErrNoBoundary = errors.New("bsdl: no BOUNDARY_REGISTER attribute")

// BoundaryCell is one entry of the BOUNDARY_REGISTER attribute:
// num (cell, port, function, safe [, ccell, disval, rslt]).
type BoundaryCell struct {
	Number   int
	CellType string // BC_1, BC_7, ...
	Port     string // "*" for internal and control cells
	Function string // input, output3, control, ...
	Safe     string // 0, 1 or X
	Control  int    // -1 when none
	Disable  int    // -1 when none
	Result   string // Z, WEAK0, PULL1, ...
}

var cellEntry = regexp.MustCompile(`(\d+)\s*\(([^)]*)\)`)

// BoundaryCells parses BOUNDARY_REGISTER into cells ordered by number.
// Numbering must run 0..n-1 without gaps and control references must name
// a declared cell.
func (e *Entity) BoundaryCells() ([]BoundaryCell, error) {
	spec := e.Spec("BOUNDARY_REGISTER")
	if spec == nil || spec.Is == nil {
		return nil, ErrNoBoundary
	}
	entries := cellEntry.FindAllStringSubmatch(spec.Is.Text(), -1)
	if len(entries) == 0 {
		return nil, fmt.Errorf("bsdl: BOUNDARY_REGISTER has no cell entries")
	}

	cells := make([]BoundaryCell, 0, len(entries))
	for _, entry := range entries {
		num, _ := strconv.Atoi(entry[1])
		cell, err := parseCell(num, entry[2])
		if err != nil {
			return nil, err
		}
		cells = append(cells, cell)
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].Number < cells[j].Number })
	for i, c := range cells {
		if c.Number != i {
			return nil, fmt.Errorf("bsdl: boundary cell %d missing", i)
		}
		if c.Control >= len(cells) {
			return nil, fmt.Errorf("bsdl: boundary cell %d: control cell %d out of range", i, c.Control)
		}
	}
	return cells, nil
}

func parseCell(num int, body string) (BoundaryCell, error) {
	var f []string
	for _, part := range strings.Split(body, ",") {
		if part = strings.TrimSpace(part); part != "" {
			f = append(f, part)
		}
	}
	if len(f) < 4 {
		return BoundaryCell{}, fmt.Errorf("bsdl: boundary cell %d: want at least 4 fields, got %d", num, len(f))
	}
	cell := BoundaryCell{Number: num, CellType: f[0], Port: f[1], Function: f[2], Safe: f[3], Control: -1, Disable: -1}
	if len(f) > 4 {
		if len(f) < 7 {
			return BoundaryCell{}, fmt.Errorf("bsdl: boundary cell %d: control fields need ccell, disval and rslt", num)
		}
		cell.Control, cell.Disable, cell.Result = cellIndex(f[4]), cellIndex(f[5]), f[6]
	}
	return cell, nil
}

// cellIndex reads an optional non-negative integer; "*", "X" and junk mean
// none.
func cellIndex(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return -1
	}
	return n
}
