package layout

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Plan is the parsed result of a declarative layout file: per-region block
// offsets and counts, derived from a `BSIZE = N B` line followed by a
// pipe-separated region sequence. Region order on disk always follows the
// order the regions appear in the file.
type Plan struct {
	BlockSize uint32

	HasBoot bool

	BootBlocks       uint32
	SuperBlocks      uint32
	GroupDescBlocks  uint32
	DataMapBlocks    uint32
	InodeMapBlocks   uint32
	InodeTableBlocks uint32
	// DataBlocks is the block count of the data region; if the file used
	// "(*)" this is computed from TotalBlocks minus every other region.
	DataBlocks uint32

	// Offsets, in blocks from the start of the volume.
	BootOffset       uint32
	SuperOffset      uint32
	GroupDescOffset  uint32
	DataMapOffset    uint32
	InodeMapOffset   uint32
	InodeTableOffset uint32
	DataOffset       uint32

	TotalBlocks uint32
}

var bsizeRe = regexp.MustCompile(`(?i)BSIZE\s*=\s*(\d+)\s*B`)
var regionRe = regexp.MustCompile(`([A-Za-z ]+)\(([0-9*]+)\)`)

// ParsePlan parses a layout file's text into a Plan. totalBlocks is the
// volume's total block count, needed to resolve a "(*)" data region.
func ParsePlan(text string, totalBlocks uint32) (Plan, error) {
	var p Plan
	p.TotalBlocks = totalBlocks

	m := bsizeRe.FindStringSubmatch(text)
	if m == nil {
		return Plan{}, fmt.Errorf("layout: missing BSIZE declaration")
	}
	bsize, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return Plan{}, fmt.Errorf("layout: invalid BSIZE: %w", err)
	}
	p.BlockSize = uint32(bsize)

	matches := regionRe.FindAllStringSubmatch(text, -1)
	if matches == nil {
		return Plan{}, fmt.Errorf("layout: no region declarations found")
	}

	offset := uint32(0)
	var sawData bool
	for _, mm := range matches {
		name := strings.ToLower(strings.TrimSpace(mm[1]))
		var blocks uint32
		star := mm[2] == "*"
		if !star {
			n, err := strconv.ParseUint(mm[2], 10, 32)
			if err != nil {
				return Plan{}, fmt.Errorf("layout: invalid block count for %q: %w", name, err)
			}
			blocks = uint32(n)
		}

		switch name {
		case "boot":
			p.HasBoot = true
			p.BootBlocks = blocks
			p.BootOffset = offset
		case "super":
			p.SuperBlocks = blocks
			p.SuperOffset = offset
		case "groupdesc":
			p.GroupDescBlocks = blocks
			p.GroupDescOffset = offset
		case "data map":
			p.DataMapBlocks = blocks
			p.DataMapOffset = offset
		case "inode map":
			p.InodeMapBlocks = blocks
			p.InodeMapOffset = offset
		case "inode table":
			p.InodeTableBlocks = blocks
			p.InodeTableOffset = offset
		case "data":
			p.DataOffset = offset
			sawData = true
			if star {
				blocks = totalBlocks - offset
			}
			p.DataBlocks = blocks
		default:
			return Plan{}, fmt.Errorf("layout: unrecognized region %q", name)
		}
		offset += blocks
	}

	if !sawData {
		return Plan{}, fmt.Errorf("layout: layout file must declare a data region")
	}
	return p, nil
}
