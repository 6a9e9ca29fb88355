package services

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"sort"
	"strconv"
	"time"
)

// MatrixRow is one participant's latest consent state for the matrix export.
type MatrixRow struct {
	ParticipantID string
	Version       int
	Granted       bool
	WithdrawnAt   string // RFC3339 or empty
	Choices       map[string]bool
}

// ExportConsentMatrixCSV renders participant-per-row with one column per
// category, using each participant's latest version.
func ExportConsentMatrixCSV(categories []*DataCategory, rows []MatrixRow) ([]byte, error) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].ParticipantID < rows[j].ParticipantID })
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	header := []string{"participant_id", "version", "granted", "withdrawn_at"}
	for _, c := range categories {
		header = append(header, c.Name)
	}
	_ = w.Write(header)
	for _, r := range rows {
		rec := []string{r.ParticipantID, strconv.Itoa(r.Version), strconv.FormatBool(r.Granted), r.WithdrawnAt}
		for _, c := range categories {
			rec = append(rec, strconv.FormatBool(r.Choices[c.ID]))
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ExportAuditCSV renders the chain oldest to newest with both hashes so the
// file is independently checkable.
func ExportAuditCSV(entries []*AuditEntry) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"created_at", "actor_role", "actor_id", "action", "details", "prev_hash", "entry_hash"})
	for _, e := range entries {
		details := ""
		if e.Details != nil {
			b, err := json.Marshal(e.Details)
			if err != nil {
				return nil, err
			}
			details = string(b)
		}
		rec := []string{
			e.CreatedAt.UTC().Format(time.RFC3339Nano),
			e.ActorRole,
			e.ActorID,
			e.Action,
			details,
			e.PrevHash,
			e.EntryHash,
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
