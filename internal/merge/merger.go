package merge

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/mstride/historyd/internal/bucket"
	"github.com/mstride/historyd/internal/catalog"
	"github.com/mstride/historyd/internal/report"
	"github.com/mstride/historyd/internal/store"
)

// merger implements the Merger interface.
type merger struct {
	db     *store.DB
	cat    *catalog.Catalog
	logger *log.Logger
}

// New creates a new Merger instance.
//
// The store must be open with its schema initialized. If logger is nil, a
// default logger writing to stderr is used.
func New(db *store.DB, cat *catalog.Catalog, logger *log.Logger) Merger {
	if cat == nil {
		cat = catalog.Default()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[merge] ", log.LstdFlags)
	}
	return &merger{
		db:     db,
		cat:    cat,
		logger: logger,
	}
}

// Merge implements Merger.Merge.
func (m *merger) Merge(ctx context.Context, records []report.Record) (*Result, error) {
	start := time.Now()
	res := &Result{}
	if len(records) == 0 {
		return res, nil
	}

	// Partition by task identifier, each partition stable-sorted by date.
	parts := partition(records)

	// Every record's own day is a touched bucket. Merge routines add the
	// day of each item they write: entries logged before the report's day
	// and doses moving between days land outside the record's day.
	touched := make(map[string]bool)
	for _, rec := range records {
		touched[bucket.DayKey(rec.Date, rec.TZSeconds)] = true
	}

	fetchedDay := time.Now().Format("2006-01-02")

	err := m.db.RunAtomic(ctx, func(tx *store.Tx) error {
		for _, part := range parts {
			entry, ok := m.cat.Lookup(part.taskID)
			if !ok {
				m.logger.Printf("WARNING: unknown task identifier %q, skipping %d records", part.taskID, len(part.records))
				res.Skipped += len(part.records)
				continue
			}

			var err error
			switch entry.Kind {
			case store.KindTap, store.KindWalk, store.KindTremor:
				err = m.mergeMeasurements(ctx, tx, entry, part.records, touched, res)
			case store.KindMedication:
				err = m.mergeMedication(ctx, tx, entry, part.records, touched, res)
			case store.KindSymptom:
				err = m.mergeSymptoms(ctx, tx, entry, part.records, touched, res)
			case store.KindTrigger:
				err = m.mergeTriggers(ctx, tx, entry, part.records, touched, res)
			}
			if err != nil {
				return fmt.Errorf("failed to merge %s records: %w", part.taskID, err)
			}

			for _, rec := range part.records {
				if err := tx.LogReport(ctx, rec.TaskID, rec.Date, fetchedDay); err != nil {
					return err
				}
			}
		}

		m.rebucket(ctx, tx, touched, res)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("merge batch of %d records: %w", len(records), err)
	}

	res.Duration = time.Since(start)
	m.logger.Printf("Merged batch: %d records, created=%d updated=%d skipped=%d failed=%d days=%d (%s)",
		len(records), res.Created, res.Updated, res.Skipped, res.Failed, len(res.Days), res.Duration.Round(time.Millisecond))

	return res, nil
}

// partition groups records by task identifier, each group sorted stably by
// date ascending. Groups come back in identifier order for deterministic
// merges.
type recordPart struct {
	taskID  string
	records []report.Record
}

func partition(records []report.Record) []recordPart {
	byTask := make(map[string][]report.Record)
	for _, rec := range records {
		byTask[rec.TaskID] = append(byTask[rec.TaskID], rec)
	}

	parts := make([]recordPart, 0, len(byTask))
	for taskID, recs := range byTask {
		sort.SliceStable(recs, func(i, j int) bool {
			return recs[i].Date.Before(recs[j].Date)
		})
		parts = append(parts, recordPart{taskID: taskID, records: recs})
	}

	sort.Slice(parts, func(i, j int) bool {
		return parts[i].taskID < parts[j].taskID
	})

	return parts
}

// mergeMeasurements handles the read-only measurement categories: tapping,
// walking, tremor. An item whose timestamp is already present is skipped
// outright, never overwritten, so re-delivered reports are idempotent even
// when their payload differs.
func (m *merger) mergeMeasurements(ctx context.Context, tx *store.Tx, entry catalog.Entry, records []report.Record, touched map[string]bool, res *Result) error {
	for _, rec := range records {
		exists, err := tx.ExistsAt(ctx, entry.Kind, rec.Date)
		if err != nil {
			return err
		}
		if exists {
			res.Skipped++
			continue
		}

		it := store.NewItem(entry.Kind, rec.TaskID)
		it.Title = entry.Title
		it.ImageName = entry.Image
		it.Timestamp = rec.Date
		it.ReportDate = rec.Date
		it.TZSeconds = rec.TZSeconds
		it.DateBucket = bucket.DayKey(rec.Date, rec.TZSeconds)

		if entry.Kind == store.KindTap {
			p, err := report.DecodeTap(rec.ClientData)
			if err != nil {
				m.logger.Printf("WARNING: dropping %s record at %s: %v", rec.TaskID, rec.Date.Format(time.RFC3339), err)
				res.Failed++
				continue
			}
			it.LeftCount = p.LeftTapCount
			it.RightCount = p.RightTapCount
		}

		touched[it.DateBucket] = true
		if err := tx.InsertItem(ctx, it); err != nil {
			return err
		}
		res.Created++
		res.observe(it.Timestamp)
	}

	return nil
}

// mergeMedication decodes each record's dose selection and flattens it into
// individual (medication, dosage, timestamp) items. A dose with a schedule
// time-of-day matches its existing slot item and updates it in place; a
// dose anchored only by a logged time matches on the exact timestamp.
func (m *merger) mergeMedication(ctx context.Context, tx *store.Tx, entry catalog.Entry, records []report.Record, touched map[string]bool, res *Result) error {
	for _, rec := range records {
		p, err := report.DecodeMedication(rec.ClientData)
		if err != nil {
			m.logger.Printf("WARNING: dropping %s record at %s: %v", rec.TaskID, rec.Date.Format(time.RFC3339), err)
			res.Failed++
			continue
		}

		loc := rec.Location()
		for _, dose := range p.Doses {
			ts, ok := report.ResolveDoseTime(dose, rec.Date, loc)
			if !ok {
				m.logger.Printf("WARNING: dose %s/%s has no resolvable time, skipping", dose.Medication, dose.Dosage)
				res.Failed++
				continue
			}

			var existing *store.Item
			if dose.TimeOfDay != "" {
				existing, err = tx.FindDose(ctx, dose.Medication, dose.Dosage, dose.TimeOfDay)
			} else {
				existing, err = tx.FindDoseAt(ctx, dose.Medication, dose.Dosage, ts)
			}
			if err != nil {
				return err
			}

			dayKey := bucket.DayKey(ts, rec.TZSeconds)

			if existing == nil {
				it := store.NewItem(store.KindMedication, rec.TaskID)
				it.ItemID = dose.Medication
				it.Title = titleize(dose.Medication)
				it.ImageName = entry.Image
				it.Timestamp = ts
				it.ReportDate = rec.Date
				it.TZSeconds = rec.TZSeconds
				it.DateBucket = dayKey
				it.Dosage = dose.Dosage
				it.TimeOfDay = dose.TimeOfDay
				it.Taken = dose.Taken

				touched[dayKey] = true
				if err := tx.InsertItem(ctx, it); err != nil {
					return err
				}
				res.Created++
				res.observe(ts)
				continue
			}

			// A moved dose leaves its old day bucket behind; both days
			// need rebucketing.
			touched[existing.DateBucket] = true
			touched[dayKey] = true

			existing.Title = titleize(dose.Medication)
			existing.Timestamp = ts
			existing.ReportDate = rec.Date
			existing.TZSeconds = rec.TZSeconds
			existing.DateBucket = dayKey
			existing.Taken = dose.Taken
			existing.Touch()

			if err := tx.UpdateItem(ctx, existing); err != nil {
				return err
			}
			res.Updated++
			res.observe(ts)
		}
	}

	return nil
}

// mergeSymptoms decodes each record's symptom entries and upserts one item
// per entry, matched by (identifier, logged timestamp).
func (m *merger) mergeSymptoms(ctx context.Context, tx *store.Tx, entry catalog.Entry, records []report.Record, touched map[string]bool, res *Result) error {
	for _, rec := range records {
		p, err := report.DecodeSymptoms(rec.ClientData)
		if err != nil {
			m.logger.Printf("WARNING: dropping %s record at %s: %v", rec.TaskID, rec.Date.Format(time.RFC3339), err)
			res.Failed++
			continue
		}

		for _, s := range p.Symptoms {
			existing, err := tx.FindByItemKeyAt(ctx, store.KindSymptom, s.Symptom, s.LoggedAt)
			if err != nil {
				return err
			}

			if existing == nil {
				it := store.NewItem(store.KindSymptom, rec.TaskID)
				it.ItemID = s.Symptom
				it.Title = titleize(s.Symptom)
				it.ImageName = entry.Image
				it.Timestamp = s.LoggedAt
				it.ReportDate = rec.Date
				it.TZSeconds = rec.TZSeconds
				it.DateBucket = bucket.DayKey(s.LoggedAt, rec.TZSeconds)
				it.Severity = s.Severity
				it.DurationLevel = s.DurationLevel
				it.Note = s.Note
				it.MedTiming = s.MedTiming

				touched[it.DateBucket] = true
				if err := tx.InsertItem(ctx, it); err != nil {
					return err
				}
				res.Created++
				res.observe(it.Timestamp)
				continue
			}

			existing.Severity = s.Severity
			existing.DurationLevel = s.DurationLevel
			existing.Note = s.Note
			existing.MedTiming = s.MedTiming
			existing.ReportDate = rec.Date
			existing.Touch()

			touched[existing.DateBucket] = true

			if err := tx.UpdateItem(ctx, existing); err != nil {
				return err
			}
			res.Updated++
			res.observe(existing.Timestamp)
		}
	}

	return nil
}

// mergeTriggers is the simpler analogue of mergeSymptoms: triggers carry
// only an identifier and a logged timestamp.
func (m *merger) mergeTriggers(ctx context.Context, tx *store.Tx, entry catalog.Entry, records []report.Record, touched map[string]bool, res *Result) error {
	for _, rec := range records {
		p, err := report.DecodeTriggers(rec.ClientData)
		if err != nil {
			m.logger.Printf("WARNING: dropping %s record at %s: %v", rec.TaskID, rec.Date.Format(time.RFC3339), err)
			res.Failed++
			continue
		}

		for _, trig := range p.Triggers {
			existing, err := tx.FindByItemKeyAt(ctx, store.KindTrigger, trig.Trigger, trig.LoggedAt)
			if err != nil {
				return err
			}

			if existing == nil {
				it := store.NewItem(store.KindTrigger, rec.TaskID)
				it.ItemID = trig.Trigger
				it.Title = titleize(trig.Trigger)
				it.ImageName = entry.Image
				it.Timestamp = trig.LoggedAt
				it.ReportDate = rec.Date
				it.TZSeconds = rec.TZSeconds
				it.DateBucket = bucket.DayKey(trig.LoggedAt, rec.TZSeconds)

				touched[it.DateBucket] = true
				if err := tx.InsertItem(ctx, it); err != nil {
					return err
				}
				res.Created++
				res.observe(it.Timestamp)
				continue
			}

			existing.Title = titleize(trig.Trigger)
			existing.ReportDate = rec.Date
			existing.Touch()

			touched[existing.DateBucket] = true

			if err := tx.UpdateItem(ctx, existing); err != nil {
				return err
			}
			res.Updated++
			res.observe(existing.Timestamp)
		}
	}

	return nil
}

// rebucket recomputes run links for every touched day. A failure for one
// day is logged and skipped: bucketing is recomputed from scratch on the
// next merge that touches the day, so it self-heals.
func (m *merger) rebucket(ctx context.Context, tx *store.Tx, touched map[string]bool, res *Result) {
	days := make([]string, 0, len(touched))
	for day := range touched {
		days = append(days, day)
	}
	sort.Strings(days)

	for _, day := range days {
		items, err := tx.ItemsForDay(ctx, day)
		if err != nil {
			m.logger.Printf("WARNING: failed to load items for day %s: %v", day, err)
			continue
		}
		if len(items) == 0 {
			continue
		}

		bucket.AssignRuns(items)

		if err := tx.SetBucketLinks(ctx, items); err != nil {
			m.logger.Printf("WARNING: failed to write bucket links for day %s: %v", day, err)
			continue
		}
		res.Days = append(res.Days, day)
	}
}

func (r *Result) observe(ts time.Time) {
	if ts.After(r.LatestItem) {
		r.LatestItem = ts
	}
}

// titleize turns a payload identifier like "poor-sleep" into a display
// title like "Poor Sleep".
func titleize(id string) string {
	words := strings.FieldsFunc(id, func(r rune) bool {
		return r == '-' || r == '_' || r == ' '
	})
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	if len(words) == 0 {
		return id
	}
	return strings.Join(words, " ")
}
