package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/results-harvester/internal/results"
)

const upsertStudentSQL = `
INSERT INTO students (hall_ticket, name, college_code, regulation, year, semester, status, sgpa, cgpa)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (hall_ticket) DO UPDATE SET
	status = EXCLUDED.status,
	sgpa = EXCLUDED.sgpa,
	cgpa = EXCLUDED.cgpa,
	updated_at = CURRENT_TIMESTAMP`

const insertSubjectSQL = `
INSERT INTO subjects (subject_code, subject_name, credits)
VALUES ($1, $2, $3)
ON CONFLICT (subject_code) DO NOTHING`

const refreshSubjectSQL = `
INSERT INTO subjects (subject_code, subject_name, credits)
VALUES ($1, $2, $3)
ON CONFLICT (subject_code) DO UPDATE SET
	subject_name = EXCLUDED.subject_name,
	credits = EXCLUDED.credits`

const upsertMarkSQL = `
INSERT INTO marks (hall_ticket, subject_code, internal, external, total, grade, grade_points, credits)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (hall_ticket, subject_code) DO UPDATE SET
	internal = EXCLUDED.internal,
	external = EXCLUDED.external,
	total = EXCLUDED.total,
	grade = EXCLUDED.grade,
	grade_points = EXCLUDED.grade_points`

const selectStudentSQL = `
SELECT hall_ticket, name, COALESCE(college_code, ''), COALESCE(regulation, ''), COALESCE(year, ''),
	COALESCE(semester, ''), COALESCE(status, ''), sgpa, cgpa, updated_at
FROM students
WHERE hall_ticket = $1`

const selectMarksSQL = `
SELECT m.subject_code, COALESCE(s.subject_name, ''), COALESCE(s.credits, m.credits, 0),
	COALESCE(m.internal, ''), COALESCE(m.external, ''), COALESCE(m.total, ''), COALESCE(m.grade, ''),
	m.grade_points, COALESCE(m.credits, 0)
FROM marks m
LEFT JOIN subjects s ON s.subject_code = m.subject_code
WHERE m.hall_ticket = $1
ORDER BY m.id`

// SaveRecord commits the student summary, subject catalog rows and marks in
// one transaction. A failure to begin means the store is unreachable and wraps
// results.ErrStoreUnavailable; any later failure rolls back and wraps
// results.ErrPersistence.
func (s *Store) SaveRecord(ctx context.Context, record results.ResultRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %w", results.ErrPersistence, err)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", results.ErrStoreUnavailable, err)
	}
	if err := s.writeRecord(ctx, tx, record); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return fmt.Errorf("%w: %s: %w", results.ErrPersistence, record.Identifier, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit %s: %w", results.ErrPersistence, record.Identifier, err)
	}
	return nil
}

func (s *Store) writeRecord(ctx context.Context, tx pgx.Tx, record results.ResultRecord) error {
	if _, err := tx.Exec(ctx, upsertStudentSQL,
		record.Identifier,
		record.Name,
		record.CollegeCode,
		record.Regulation,
		record.AcademicYear,
		record.Semester,
		string(record.Status),
		record.SGPA,
		record.CGPA,
	); err != nil {
		return fmt.Errorf("upsert student: %w", err)
	}

	subjectSQL := insertSubjectSQL
	if s.refreshCatalog {
		subjectSQL = refreshSubjectSQL
	}
	for _, sub := range record.Subjects {
		if _, err := tx.Exec(ctx, subjectSQL, sub.Code, sub.Name, sub.Credits); err != nil {
			return fmt.Errorf("upsert subject %s: %w", sub.Code, err)
		}
	}

	for _, m := range record.Marks {
		if _, err := tx.Exec(ctx, upsertMarkSQL,
			record.Identifier,
			m.SubjectCode,
			m.Internal,
			m.External,
			m.Total,
			m.Grade,
			m.GradePoints,
			m.Credits,
		); err != nil {
			return fmt.Errorf("upsert mark %s: %w", m.SubjectCode, err)
		}
	}
	return nil
}

// GetRecord loads a student summary with its joined marks.
func (s *Store) GetRecord(ctx context.Context, identifier string) (results.ResultRecord, error) {
	var (
		rec    results.ResultRecord
		status string
	)
	err := s.pool.QueryRow(ctx, selectStudentSQL, identifier).Scan(
		&rec.Identifier,
		&rec.Name,
		&rec.CollegeCode,
		&rec.Regulation,
		&rec.AcademicYear,
		&rec.Semester,
		&status,
		&rec.SGPA,
		&rec.CGPA,
		&rec.FetchedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return results.ResultRecord{}, fmt.Errorf("student %s: %w", identifier, results.ErrNotFound)
		}
		return results.ResultRecord{}, fmt.Errorf("get student %s: %w", identifier, err)
	}
	rec.Status = results.Status(status)

	rows, err := s.pool.Query(ctx, selectMarksSQL, identifier)
	if err != nil {
		return results.ResultRecord{}, fmt.Errorf("list marks %s: %w", identifier, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m       results.Mark
			credits float64
		)
		if err := rows.Scan(
			&m.SubjectCode,
			&m.SubjectName,
			&credits,
			&m.Internal,
			&m.External,
			&m.Total,
			&m.Grade,
			&m.GradePoints,
			&m.Credits,
		); err != nil {
			return results.ResultRecord{}, fmt.Errorf("scan mark row: %w", err)
		}
		rec.Marks = append(rec.Marks, m)
		rec.Subjects = append(rec.Subjects, results.Subject{Code: m.SubjectCode, Name: m.SubjectName, Credits: credits})
	}
	if err := rows.Err(); err != nil {
		return results.ResultRecord{}, fmt.Errorf("iterate marks %s: %w", identifier, err)
	}
	return rec, nil
}
