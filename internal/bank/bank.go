// Package bank holds the reference question bank: units of numbered
// sessions, each an ordered list of question/expected-answer cards.
//
// A Bank is built once and never mutated afterwards, so it is safe for
// any number of concurrent readers without locking.
package bank

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/pavelanni/recitation/internal/model"
)

// DefaultSuffix is the file name suffix of reference sources; the part of
// the name before it is the unit id.
const DefaultSuffix = "_快反.csv"

var sessionToken = cases.Fold().String("Session")

// Bank maps unit id -> session index -> ordered cards.
type Bank struct {
	units map[string]map[int][]model.Card
}

// UnitInfo summarizes one loaded unit.
type UnitInfo struct {
	UnitID   string      `json:"unit_id"`
	Sessions map[int]int `json:"sessions"` // session index -> card count
}

// New creates an empty bank. Use Add or LoadDir to populate it before sharing.
func New() *Bank {
	return &Bank{units: make(map[string]map[int][]model.Card)}
}

// LoadDir parses every file in dir whose name ends with suffix.
func LoadDir(dir, suffix string) (*Bank, error) {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read bank dir: %w", err)
	}

	b := New()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		unitID := strings.TrimSuffix(e.Name(), suffix)
		if unitID == "" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := b.addFile(path, unitID); err != nil {
			return nil, err
		}
		slog.Info("loaded reference source", "path", path, "unit", unitID, "sessions", len(b.units[unitID]))
	}
	return b, nil
}

func (b *Bank) addFile(path, unitID string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if err := b.Add(f, unitID); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Parse builds a single-unit bank from one tabular source.
func Parse(r io.Reader, unitID string) (*Bank, error) {
	b := New()
	if err := b.Add(r, unitID); err != nil {
		return nil, err
	}
	return b, nil
}

// Add parses one CSV source into the unit unitID.
//
// The first row is a header. A row whose first cell starts with "Session"
// (any case) opens the session numbered by its last token and restarts card
// numbering; a marker without a numeric last token is skipped. Rows before
// the first marker, and rows with fewer than two non-empty cells, are ignored.
func (b *Bank) Add(r io.Reader, unitID string) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("read header: %w", err)
	}

	sessions := b.units[unitID]
	if sessions == nil {
		sessions = make(map[int][]model.Card)
		b.units[unitID] = sessions
	}

	current, active := 0, false
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read row: %w", err)
		}
		if len(row) == 0 {
			continue
		}

		first := strings.TrimSpace(row[0])
		if first == "" {
			continue
		}
		if idx, ok := sessionMarker(first); ok {
			current, active = idx, true
			continue
		} else if isMarkerLike(first) {
			slog.Warn("ignoring session marker without number", "unit", unitID, "cell", first)
			continue
		}
		if !active || len(row) < 2 {
			continue
		}
		answer := strings.TrimSpace(row[1])
		if answer == "" {
			continue
		}

		cards := sessions[current]
		sessions[current] = append(cards, model.Card{
			// A repeated marker continues after the cards already present,
			// so card indices stay unique within the session.
			CardIndex:      len(cards),
			Question:       first,
			ExpectedAnswer: answer,
		})
	}
	return nil
}

func isMarkerLike(cell string) bool {
	return strings.HasPrefix(cases.Fold().String(cell), sessionToken)
}

func sessionMarker(cell string) (int, bool) {
	if !isMarkerLike(cell) {
		return 0, false
	}
	fields := strings.Fields(cell)
	n, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// GetSession returns the cards of a session in source order.
// ok is false when the unit or the session within it was never populated.
func (b *Bank) GetSession(unitID string, sessionIndex int) ([]model.Card, bool) {
	cards, ok := b.units[unitID][sessionIndex]
	if !ok || len(cards) == 0 {
		return nil, false
	}
	return slices.Clone(cards), true
}

// Units lists the loaded units sorted by id. Only sessions that GetSession
// can return are listed; a unit without any is left out.
func (b *Bank) Units() []UnitInfo {
	out := make([]UnitInfo, 0, len(b.units))
	for id, sessions := range b.units {
		info := UnitInfo{UnitID: id, Sessions: make(map[int]int, len(sessions))}
		for idx, cards := range sessions {
			if len(cards) > 0 {
				info.Sessions[idx] = len(cards)
			}
		}
		if len(info.Sessions) > 0 {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out
}
