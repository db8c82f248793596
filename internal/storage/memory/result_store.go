package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/results-harvester/internal/results"
)

type studentRow struct {
	record  results.ResultRecord
	updated time.Time
}

type markKey struct {
	identifier string
	code       string
}

// ResultStore mirrors the Postgres upsert rules in process memory.
type ResultStore struct {
	mu             sync.RWMutex
	refreshCatalog bool
	now            func() time.Time
	students       map[string]studentRow
	subjects       map[string]results.Subject
	marks          map[markKey]results.Mark
	markOrder      map[string][]string
}

// NewResultStore constructs an empty ResultStore. When refreshCatalog is set,
// subject names and credits are overwritten by later records.
func NewResultStore(refreshCatalog bool) *ResultStore {
	return &ResultStore{
		refreshCatalog: refreshCatalog,
		now:            func() time.Time { return time.Now().UTC() },
		students:       make(map[string]studentRow),
		subjects:       make(map[string]results.Subject),
		marks:          make(map[markKey]results.Mark),
		markOrder:      make(map[string][]string),
	}
}

// SaveRecord applies the student, subject and mark upserts atomically.
func (s *ResultStore) SaveRecord(_ context.Context, record results.ResultRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %w", results.ErrPersistence, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	row, exists := s.students[record.Identifier]
	if exists {
		row.record.Status = record.Status
		row.record.SGPA = record.SGPA
		row.record.CGPA = record.CGPA
	} else {
		row.record = results.ResultRecord{
			Identifier:   record.Identifier,
			Name:         record.Name,
			CollegeCode:  record.CollegeCode,
			Regulation:   record.Regulation,
			AcademicYear: record.AcademicYear,
			Semester:     record.Semester,
			Status:       record.Status,
			SGPA:         record.SGPA,
			CGPA:         record.CGPA,
		}
	}
	row.updated = now
	s.students[record.Identifier] = row

	for _, sub := range record.Subjects {
		if _, ok := s.subjects[sub.Code]; ok && !s.refreshCatalog {
			continue
		}
		s.subjects[sub.Code] = sub
	}

	for _, m := range record.Marks {
		key := markKey{identifier: record.Identifier, code: m.SubjectCode}
		existing, ok := s.marks[key]
		if !ok {
			s.markOrder[record.Identifier] = append(s.markOrder[record.Identifier], m.SubjectCode)
			existing = results.Mark{SubjectCode: m.SubjectCode, Credits: m.Credits}
		}
		existing.Internal = m.Internal
		existing.External = m.External
		existing.Total = m.Total
		existing.Grade = m.Grade
		existing.GradePoints = m.GradePoints
		s.marks[key] = existing
	}
	return nil
}

// GetRecord returns the stored summary with its marks joined to the catalog.
func (s *ResultStore) GetRecord(_ context.Context, identifier string) (results.ResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.students[identifier]
	if !ok {
		return results.ResultRecord{}, fmt.Errorf("student %s: %w", identifier, results.ErrNotFound)
	}
	rec := row.record
	rec.FetchedAt = row.updated
	rec.Subjects = nil
	rec.Marks = nil
	for _, code := range s.markOrder[identifier] {
		m := s.marks[markKey{identifier: identifier, code: code}]
		sub := results.Subject{Code: code, Credits: m.Credits}
		if cat, ok := s.subjects[code]; ok {
			sub = cat
		}
		m.SubjectName = sub.Name
		rec.Marks = append(rec.Marks, m)
		rec.Subjects = append(rec.Subjects, sub)
	}
	return rec, nil
}

// Counts reports row counts per table.
func (s *ResultStore) Counts() (students, subjects, marks int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.students), len(s.subjects), len(s.marks)
}
