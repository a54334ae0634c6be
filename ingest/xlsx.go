/*
Package ingest reads revenue spreadsheets into engine rows.

PURPOSE:
  Boundary collaborator between uploaded .xlsx files and the engine's Row
  contract. Column positions are discovered from a header row, not hardcoded,
  so exports with reordered columns still parse. Cells are passed through
  raw; the engine owns amount parsing and milestone trigger matching.

MANAGER TYPE INFERENCE:
  A row with a populated live-manager cell belongs to a LIVE manager; any
  other row with a populated team-manager cell belongs to a TEAM manager.
  The populated cell is the manager label.

SEE ALSO:
  - engine/row.go: Normalization applied downstream
*/
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/warp/commission-engine/engine"
)

// ErrNoHeader is returned when no recognizable header row is found.
var ErrNoHeader = errors.New("no usable header row found")

// header aliases, matched against normalized cell text.
var (
	creatorAliases = []string{"creator", "creator handle", "creator name", "creator id"}
	liveAliases    = []string{"live manager", "live", "live manager handle"}
	teamAliases    = []string{"team manager", "team", "team manager handle"}
	grossAliases   = []string{"gross", "gross amount", "amount", "revenue", "diamonds"}

	milestoneAliases = map[engine.MilestoneKind][]string{
		engine.MilestoneS: {"s", "milestone s"},
		engine.MilestoneN: {"n", "milestone n"},
		engine.MilestoneO: {"o", "milestone o"},
		engine.MilestoneP: {"p", "milestone p"},
	}
)

// columns maps discovered header positions. -1 means absent.
type columns struct {
	creator    int
	live       int
	team       int
	gross      int
	milestones map[engine.MilestoneKind]int
}

// Parse reads the first sheet of an .xlsx stream into rows for the period.
// Rows missing both manager cells or a gross cell are dropped here; rows
// with unparsable values are kept and left to the engine's row-level
// skipping so they are counted against the batch.
func Parse(r io.Reader, period engine.Period) ([]engine.Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoHeader
	}
	cells, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}

	headerIdx, cols := findHeader(cells)
	if headerIdx < 0 {
		return nil, ErrNoHeader
	}

	var rows []engine.Row
	for _, line := range cells[headerIdx+1:] {
		row, ok := buildRow(line, cols, period)
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// findHeader scans for the first row that names at least a creator column
// and a gross column.
func findHeader(cells [][]string) (int, columns) {
	for i, line := range cells {
		cols := columns{creator: -1, live: -1, team: -1, gross: -1,
			milestones: make(map[engine.MilestoneKind]int)}
		for j, cell := range line {
			name := engine.NormalizeLabel(cell)
			switch {
			case matches(name, creatorAliases):
				cols.creator = j
			case matches(name, liveAliases):
				cols.live = j
			case matches(name, teamAliases):
				cols.team = j
			case matches(name, grossAliases):
				cols.gross = j
			default:
				for kind, aliases := range milestoneAliases {
					if matches(name, aliases) {
						cols.milestones[kind] = j
					}
				}
			}
		}
		if cols.creator >= 0 && cols.gross >= 0 && (cols.live >= 0 || cols.team >= 0) {
			return i, cols
		}
	}
	return -1, columns{}
}

func matches(name string, aliases []string) bool {
	for _, a := range aliases {
		if name == a {
			return true
		}
	}
	return false
}

func buildRow(line []string, cols columns, period engine.Period) (engine.Row, bool) {
	live := cellAt(line, cols.live)
	team := cellAt(line, cols.team)

	managerLabel := live
	managerType := engine.ManagerLive
	if strings.TrimSpace(live) == "" {
		managerLabel = team
		managerType = engine.ManagerTeam
	}
	if strings.TrimSpace(managerLabel) == "" {
		return engine.Row{}, false
	}

	milestones := make(map[engine.MilestoneKind]string)
	for kind, idx := range cols.milestones {
		if raw := cellAt(line, idx); strings.TrimSpace(raw) != "" {
			milestones[kind] = raw
		}
	}

	return engine.Row{
		Period:       period,
		ManagerLabel: managerLabel,
		ManagerType:  managerType,
		CreatorLabel: cellAt(line, cols.creator),
		GrossRaw:     cellAt(line, cols.gross),
		Milestones:   milestones,
	}, true
}

func cellAt(line []string, idx int) string {
	if idx < 0 || idx >= len(line) {
		return ""
	}
	return line[idx]
}

// =============================================================================
// FILE SOURCE - engine.RowSource over spooled uploads
// =============================================================================

// FileSource loads a batch's rows from the spooled file recorded in
// UploadBatch.Source.
type FileSource struct {
	logger zerolog.Logger
}

func NewFileSource(logger zerolog.Logger) *FileSource {
	return &FileSource{logger: logger}
}

var _ engine.RowSource = (*FileSource)(nil)

// Rows opens the batch's spooled workbook and parses it.
func (s *FileSource) Rows(_ context.Context, batch *engine.UploadBatch) ([]engine.Row, error) {
	f, err := os.Open(batch.Source)
	if err != nil {
		return nil, fmt.Errorf("opening upload %q: %w", batch.Source, err)
	}
	defer f.Close()

	rows, err := Parse(f, batch.Period)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("batch_id", string(batch.ID)).
		Str("source", batch.Source).
		Int("rows", len(rows)).
		Msg("spreadsheet parsed")
	return rows, nil
}
