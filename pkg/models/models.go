package models

import (
	"strconv"
	"strings"
)

// Literal values used for synthesized swap entries
const (
	SwapTarget  = "none"
	SwapFSType  = "swap"
	SwapOptions = "defaults"
)

// FstabEntry represents one line of the mount table
type FstabEntry struct {
	Source  string // Device path or identifier (fs_spec)
	Target  string // Mount point or "none" (fs_file)
	FSType  string
	Options string
	Dump    int
	Pass    int

	// Token text of Dump and Pass as read, written back unchanged.
	// Empty for synthesized entries.
	RawDump string
	RawPass string

	// Comment holds a verbatim comment line; when set the other fields are empty
	Comment string
}

// IsComment reports whether the entry is a preserved comment line
func (e *FstabEntry) IsComment() bool {
	return e.Comment != ""
}

// IsSwap reports whether the entry declares a swap area
func (e *FstabEntry) IsSwap() bool {
	return e.FSType == SwapFSType
}

// Fields returns the six fstab fields in file order
func (e *FstabEntry) Fields() []string {
	return []string{
		e.Source,
		e.Target,
		e.FSType,
		e.Options,
		numericField(e.RawDump, e.Dump),
		numericField(e.RawPass, e.Pass),
	}
}

func numericField(raw string, value int) string {
	if raw != "" {
		return raw
	}
	return strconv.Itoa(value)
}

// String returns the canonical tab-joined form of the entry
func (e *FstabEntry) String() string {
	if e.IsComment() {
		return e.Comment
	}
	return strings.Join(e.Fields(), "\t")
}

// NewSwapEntry builds the entry written for a device provisioned as swap
func NewSwapEntry(device string) *FstabEntry {
	return &FstabEntry{
		Source:  device,
		Target:  SwapTarget,
		FSType:  SwapFSType,
		Options: SwapOptions,
		Dump:    0,
		Pass:    0,
	}
}

// FstabTable is the ordered content of a mount table file
type FstabTable struct {
	Entries []*FstabEntry
}

// SwapDevice represents a requested device and its runtime state
type SwapDevice struct {
	Path          string
	IsBlockDevice bool
	IsActiveSwap  bool
}

// ActiveSwapEntry represents one row of the live swap summary
type ActiveSwapEntry struct {
	FileName string
	Type     string // "partition" or "file"
	SizeKB   int64
	UsedKB   int64
	Priority int
}
