/*
row.go - The spreadsheet row contract and its normalization rules

PURPOSE:
  Defines the Row produced by the ingest layer and the normalization applied
  before any value is trusted: identity labels are canonicalized by one shared
  function, gross amounts accept either ',' or '.' as decimal separator plus
  currency symbols, and a milestone counts as achieved only when its raw cell
  exactly equals the documented trigger value.

EQUIVALENCE RULES FOR LABELS:
  - surrounding whitespace trimmed
  - internal whitespace runs collapsed to a single space
  - case-folded to lower case
  Two raw labels that normalize equal refer to the same identity. Every
  resolution site goes through NormalizeLabel; there is no second fuzzy path.

MILESTONE TRIGGERS:
  S=150, N=300, O=1000, P=240. A cell that is merely non-empty ("yes", "1",
  "149") does NOT count.

SEE ALSO:
  - resolver.go:   Uses NormalizeLabel for cache and store lookups
  - calculator.go: Consumes the achieved-milestone set
*/
package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Row is one spreadsheet line as handed over by the ingest collaborator.
// Cells are kept raw; the engine owns all normalization.
type Row struct {
	Period       Period
	ManagerLabel string
	ManagerType  ManagerType // LIVE when the live-manager cell was populated
	CreatorLabel string
	GrossRaw     string
	Milestones   map[MilestoneKind]string // raw signal cells, may be nil
}

// Gross parses the row's raw gross cell.
func (r Row) Gross() (decimal.Decimal, error) {
	return ParseAmount(r.GrossRaw)
}

// Achieved returns the set of milestone kinds whose raw cell exactly matches
// the trigger value for that kind.
func (r Row) Achieved() map[MilestoneKind]bool {
	achieved := make(map[MilestoneKind]bool, len(MilestoneKinds))
	for _, k := range MilestoneKinds {
		raw, ok := r.Milestones[k]
		if !ok {
			continue
		}
		if strings.TrimSpace(raw) == milestoneTriggers[k] {
			achieved[k] = true
		}
	}
	return achieved
}

// milestoneTriggers are the exact cell values that mark a milestone achieved.
var milestoneTriggers = map[MilestoneKind]string{
	MilestoneS: "150",
	MilestoneN: "300",
	MilestoneO: "1000",
	MilestoneP: "240",
}

// =============================================================================
// LABEL NORMALIZATION
// =============================================================================

// NormalizeLabel canonicalizes a raw manager/creator label: trim, collapse
// internal whitespace, case-fold. The single equivalence function for every
// resolution site.
func NormalizeLabel(raw string) string {
	fields := strings.Fields(raw)
	return strings.ToLower(strings.Join(fields, " "))
}

// =============================================================================
// AMOUNT PARSING
// =============================================================================

// ParseAmount reads a monetary cell. Accepts currency symbols and grouping,
// with either ',' or '.' as the decimal separator:
//
//	"1.234,56"  -> 1234.56
//	"$1,234.56" -> 1234.56
//	"2000"      -> 2000
//	"1,5"       -> 1.5
//	"1,234"     -> 1234
//	"1.234"     -> 1.234
//
// When both separators appear, the rightmost one is the decimal point. With a
// single separator the rules differ by kind: a lone comma followed by exactly
// three digits is read as a thousands separator, a lone dot is always the
// decimal point. Dot is the canonical decimal separator of the source
// exports, so an amount like "12.345" must keep its literal reading; comma
// only appears alone as either a grouped integer ("1,500") or a short
// comma-decimal ("1,5"), which the three-digit rule separates. Repeated
// same-kind separators are always grouping.
func ParseAmount(raw string) (decimal.Decimal, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' || r == ',' || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" || s == "-" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnparsableAmount, raw)
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// European style: dots group, comma is decimal.
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s[:strings.LastIndex(s, ",")], ",", "") + "." + s[strings.LastIndex(s, ",")+1:]
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 != 3 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnparsableAmount, raw)
	}
	return d, nil
}
