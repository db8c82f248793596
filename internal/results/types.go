// Package results defines core types shared across the harvester subsystems.
package results

import (
	"errors"
	"strings"
	"time"
)

// Status is the pass/fail outcome derived from a record's marks.
type Status string

// Status values persisted in students.status.
const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

// Grades that mark a subject as not cleared.
const (
	GradeFail   = "F"
	GradeAbsent = "Ab"
)

// Source tags where a lookup was answered from.
type Source string

// Lookup sources.
const (
	SourceCache    Source = "cache"
	SourceDatabase Source = "database"
	SourceLive     Source = "live"
	SourceNotFound Source = "not_found"
)

// ResultRecord is one ingested outcome for one hall ticket.
type ResultRecord struct {
	Identifier   string    `json:"hall_ticket"`
	Name         string    `json:"name"`
	CollegeCode  string    `json:"college_code"`
	Regulation   string    `json:"regulation"`
	AcademicYear string    `json:"year"`
	Semester     string    `json:"semester"`
	Status       Status    `json:"status"`
	SGPA         *float64  `json:"sgpa"`
	CGPA         *float64  `json:"cgpa"`
	Subjects     []Subject `json:"subjects"`
	Marks        []Mark    `json:"marks"`
	FetchedAt    time.Time `json:"fetched_at,omitempty"`
}

// Subject is a subject catalog entry. First writer wins for Name and Credits.
type Subject struct {
	Code    string  `json:"code"`
	Name    string  `json:"name"`
	Credits float64 `json:"credits"`
}

// Mark joins one record to one subject. Keyed by (hall ticket, subject code).
type Mark struct {
	SubjectCode string   `json:"subject_code"`
	SubjectName string   `json:"subject_name,omitempty"`
	Internal    string   `json:"internal"`
	External    string   `json:"external"`
	Total       string   `json:"total"`
	Grade       string   `json:"grade"`
	GradePoints *float64 `json:"grade_points"`
	Credits     float64  `json:"credits"`
}

// ErrIncompleteRecord rejects records missing identity fields.
var ErrIncompleteRecord = errors.New("result record is missing identity fields")

// Validate enforces that a record is wholly present before it is persisted.
func (r ResultRecord) Validate() error {
	if strings.TrimSpace(r.Identifier) == "" || strings.TrimSpace(r.Name) == "" {
		return ErrIncompleteRecord
	}
	for _, m := range r.Marks {
		if m.SubjectCode == "" {
			return ErrIncompleteRecord
		}
	}
	return nil
}

// DeriveStatus returns FAIL when any mark carries the fail or absence grade.
func DeriveStatus(marks []Mark) Status {
	for _, m := range marks {
		grade := strings.TrimSpace(m.Grade)
		if strings.EqualFold(grade, GradeFail) || strings.EqualFold(grade, GradeAbsent) {
			return StatusFail
		}
	}
	return StatusPass
}

// NormalizeIdentifier trims and upper-cases a hall ticket.
func NormalizeIdentifier(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// ChunkStats counts the outcomes of one worker chunk.
type ChunkStats struct {
	Processed       int      `json:"processed"`
	Success         int      `json:"success"`
	NotFound        int      `json:"not_found"`
	// ParseIncomplete is the subset of NotFound whose page had an
	// unexpected shape.
	ParseIncomplete int      `json:"parse_incomplete"`
	Failed          []string `json:"failed,omitempty"`
	Aborted         bool     `json:"aborted,omitempty"`
}

// FailedCount is the number of identifiers whose status is unknown.
func (s ChunkStats) FailedCount() int {
	return len(s.Failed)
}

// Merge folds another chunk's counts into s.
func (s *ChunkStats) Merge(other ChunkStats) {
	s.Processed += other.Processed
	s.Success += other.Success
	s.NotFound += other.NotFound
	s.ParseIncomplete += other.ParseIncomplete
	s.Failed = append(s.Failed, other.Failed...)
	s.Aborted = s.Aborted || other.Aborted
}

// BatchStatus represents the lifecycle state of a harvest batch.
type BatchStatus string

// Batch status values.
const (
	BatchQueued    BatchStatus = "queued"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchCanceled  BatchStatus = "canceled"
)

// ChunkTask is one chunk of a batch, ready for a worker. Exactly one of
// Profile or RangeStart/RangeEnd describes the identifiers.
type ChunkTask struct {
	BatchID    string        `json:"batch_id"`
	Index      int           `json:"index"`
	ExamCode   string        `json:"exam_code"`
	Delay      time.Duration `json:"delay"`
	Profile    string        `json:"profile,omitempty"`
	Offset     int64         `json:"offset"`
	Limit      int64         `json:"limit"`
	RangeStart string        `json:"range_start,omitempty"`
	RangeEnd   string        `json:"range_end,omitempty"`
	Width      int           `json:"width,omitempty"`
}

// Batch is the progress record of one submitted harvest.
type Batch struct {
	ID          string      `json:"id"`
	Status      BatchStatus `json:"status"`
	ExamCode    string      `json:"exam_code"`
	Profile     string      `json:"profile,omitempty"`
	RangeStart  string      `json:"range_start,omitempty"`
	RangeEnd    string      `json:"range_end,omitempty"`
	Width       int         `json:"width,omitempty"`
	Total       string      `json:"total"`
	ChunkSize   string      `json:"chunk_size"`
	ChunkCount  int         `json:"chunk_count"`
	ChunksDone  int         `json:"chunks_done"`
	Stats       ChunkStats  `json:"stats"`
	Submitted   time.Time   `json:"submitted_at"`
	Started     *time.Time  `json:"started_at,omitempty"`
	Finished    *time.Time  `json:"finished_at,omitempty"`
	ChunkErrors []string    `json:"chunk_errors,omitempty"`
}
