package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/runningman84/swap-operator/pkg/models"
)

// Number of whitespace separated fields on a mount table line
const fstabFieldCount = 6

// Number of whitespace separated fields on a swap summary row
const swapSummaryFieldCount = 5

// MalformedEntryError is returned when a mount table line does not parse
type MalformedEntryError struct {
	Line   int // 1-based line number
	Text   string
	Reason string
}

func (e *MalformedEntryError) Error() string {
	return fmt.Sprintf("malformed fstab entry on line %d (%s): %q", e.Line, e.Reason, e.Text)
}

// MalformedSwapSummaryError is returned when a swap summary row does not parse
type MalformedSwapSummaryError struct {
	Line   int // 1-based line number of the non-empty row, header included
	Text   string
	Reason string
}

func (e *MalformedSwapSummaryError) Error() string {
	return fmt.Sprintf("malformed swap summary row %d (%s): %q", e.Line, e.Reason, e.Text)
}

// splitLines splits text into lines without producing a trailing empty line
// for newline-terminated input
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

// ParseFstab parses mount table content into a table.
// Blank lines are dropped and reported as warnings. Comment lines are kept
// verbatim so a rewrite does not lose them.
func ParseFstab(data []byte) (*models.FstabTable, []string, error) {
	table := &models.FstabTable{}
	var warnings []string

	for i, raw := range splitLines(string(data)) {
		lineNo := i + 1
		line := strings.ReplaceAll(strings.TrimSpace(raw), "\t", " ")

		if line == "" {
			warnings = append(warnings, fmt.Sprintf("Empty line in fstab: %d", lineNo))
			continue
		}

		if strings.HasPrefix(line, "#") {
			table.Entries = append(table.Entries, &models.FstabEntry{Comment: strings.TrimSpace(raw)})
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != fstabFieldCount {
			return nil, warnings, &MalformedEntryError{
				Line:   lineNo,
				Text:   raw,
				Reason: fmt.Sprintf("expected %d fields, got %d", fstabFieldCount, len(fields)),
			}
		}

		dump, err := strconv.Atoi(fields[4])
		if err != nil {
			return nil, warnings, &MalformedEntryError{Line: lineNo, Text: raw, Reason: "dump field is not an integer"}
		}
		pass, err := strconv.Atoi(fields[5])
		if err != nil {
			return nil, warnings, &MalformedEntryError{Line: lineNo, Text: raw, Reason: "pass field is not an integer"}
		}

		table.Entries = append(table.Entries, &models.FstabEntry{
			Source:  fields[0],
			Target:  fields[1],
			FSType:  fields[2],
			Options: fields[3],
			Dump:    dump,
			Pass:    pass,
			RawDump: fields[4],
			RawPass: fields[5],
		})
	}

	return table, warnings, nil
}

// SerializeFstab renders a table as tab-joined lines, each terminated by a newline
func SerializeFstab(table *models.FstabTable) string {
	var b strings.Builder
	for _, entry := range table.Entries {
		b.WriteString(entry.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseSwapSummary parses `swapon --summary` output.
// The first non-empty line is the header and is discarded.
func ParseSwapSummary(data []byte) ([]*models.ActiveSwapEntry, error) {
	var entries []*models.ActiveSwapEntry

	rowNo := 0
	for _, raw := range splitLines(string(data)) {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		rowNo++
		if rowNo == 1 {
			continue
		}

		fields := strings.Fields(raw)
		if len(fields) != swapSummaryFieldCount {
			return nil, &MalformedSwapSummaryError{
				Line:   rowNo,
				Text:   raw,
				Reason: fmt.Sprintf("expected %d fields, got %d", swapSummaryFieldCount, len(fields)),
			}
		}

		size, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, &MalformedSwapSummaryError{Line: rowNo, Text: raw, Reason: "size is not an integer"}
		}
		used, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return nil, &MalformedSwapSummaryError{Line: rowNo, Text: raw, Reason: "used is not an integer"}
		}
		priority, err := strconv.Atoi(fields[4])
		if err != nil {
			return nil, &MalformedSwapSummaryError{Line: rowNo, Text: raw, Reason: "priority is not an integer"}
		}

		entries = append(entries, &models.ActiveSwapEntry{
			FileName: fields[0],
			Type:     fields[1],
			SizeKB:   size,
			UsedKB:   used,
			Priority: priority,
		})
	}

	return entries, nil
}
