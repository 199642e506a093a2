// Package snapshot converts the local collections to and from the portable
// backup document:
//
//	{"exportedAt": "...", "version": 2, "clients": [...], "services": [...],
//	 "timeEntries": [...], "invoices": [...], "settings": [...]}
//
// It also owns the remote file naming convention.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dmitrijs2005/invoicekeeper/internal/client/models"
	"github.com/dmitrijs2005/invoicekeeper/internal/common"
	"github.com/dmitrijs2005/invoicekeeper/internal/timex"
)

// FormatVersion is the document version written by this client.
const FormatVersion = 2

// Snapshot is an immutable point-in-time export of every collection.
type Snapshot struct {
	ExportedAt  string
	Version     int
	Collections map[string][]models.Record
}

// New builds a snapshot from collections read out of the local store.
// Missing collections are exported as empty arrays.
func New(exportedAt time.Time, collections map[string][]models.Record) Snapshot {
	out := make(map[string][]models.Record, len(models.Collections()))
	for _, c := range models.Collections() {
		recs := collections[c.Name]
		if recs == nil {
			recs = []models.Record{}
		}
		out[c.Name] = recs
	}
	return Snapshot{
		ExportedAt:  timex.FormatISO(exportedAt),
		Version:     FormatVersion,
		Collections: out,
	}
}

// Records returns the records of collection c.
func (s Snapshot) Records(c models.Collection) []models.Record {
	return s.Collections[c.Name]
}

// Count returns the total number of records.
func (s Snapshot) Count() int {
	n := 0
	for _, recs := range s.Collections {
		n += len(recs)
	}
	return n
}

// Serialize renders s as an indented JSON document with a fixed key order.
// Record objects are written byte for byte, so Parse(Serialize(s)) yields
// identical records.
func Serialize(s Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{")

	exportedAt, err := json.Marshal(s.ExportedAt)
	if err != nil {
		return nil, fmt.Errorf("encode exportedAt: %w", err)
	}
	fmt.Fprintf(&buf, `"exportedAt":%s,"version":%d`, exportedAt, s.Version)

	for _, c := range models.Collections() {
		fmt.Fprintf(&buf, `,%q:[`, c.Name)
		for i, r := range s.Collections[c.Name] {
			if i > 0 {
				buf.WriteString(",")
			}
			raw, err := r.MarshalJSON()
			if err != nil {
				return nil, fmt.Errorf("encode %s[%d]: %w", c.Name, i, err)
			}
			buf.Write(raw)
		}
		buf.WriteString("]")
	}
	buf.WriteString("}")

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrFormat, err)
	}
	return out.Bytes(), nil
}

// Parse validates and decodes a snapshot document. It fails with
// common.ErrFormat when the content is not a JSON object, when a collection
// is missing or not an array, or when a collection element is not an object.
func Parse(content []byte) (Snapshot, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(content, &doc); err != nil || doc == nil {
		return Snapshot{}, fmt.Errorf("%w: not a JSON object", common.ErrFormat)
	}

	var missing, notArray []string
	arrays := make(map[string][]json.RawMessage, len(models.Collections()))
	for _, c := range models.Collections() {
		raw, ok := doc[c.Name]
		if !ok {
			missing = append(missing, c.Name)
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil || items == nil {
			notArray = append(notArray, c.Name)
			continue
		}
		arrays[c.Name] = items
	}
	if len(missing) > 0 {
		return Snapshot{}, fmt.Errorf("%w: missing %s", common.ErrFormat, strings.Join(missing, ", "))
	}
	if len(notArray) > 0 {
		return Snapshot{}, fmt.Errorf("%w: not an array: %s", common.ErrFormat, strings.Join(notArray, ", "))
	}

	s := Snapshot{Collections: make(map[string][]models.Record, len(arrays))}
	if raw, ok := doc["exportedAt"]; ok {
		_ = json.Unmarshal(raw, &s.ExportedAt)
	}
	if raw, ok := doc["version"]; ok {
		_ = json.Unmarshal(raw, &s.Version)
	}

	for _, c := range models.Collections() {
		items := arrays[c.Name]
		recs := make([]models.Record, 0, len(items))
		for i, item := range items {
			r, err := models.DecodeRecord(c.KeyField, item)
			if err != nil {
				return Snapshot{}, fmt.Errorf("%w: %s[%d]: %v", common.ErrFormat, c.Name, i, err)
			}
			recs = append(recs, r)
		}
		s.Collections[c.Name] = recs
	}
	return s, nil
}

const (
	namePrefix = "backup-"
	nameSuffix = ".json"
)

var nameRe = regexp.MustCompile(`^backup-\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}-\d{3}Z\.json$`)

// FileName returns the remote file name for a snapshot taken at t, e.g.
// backup-2025-01-02T03-04-05-678Z.json. Names sort chronologically.
func FileName(t time.Time) string {
	ts := timex.FormatISO(t)
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	return namePrefix + ts + nameSuffix
}

// IsSnapshotName reports whether name follows the FileName convention.
func IsSnapshotName(name string) bool {
	return nameRe.MatchString(name)
}
