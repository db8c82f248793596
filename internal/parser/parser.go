// Package parser turns one results-portal page into a ResultRecord.
//
// The page grammar is: a label cell reading "Name" followed by the value cell,
// a few optional labelled cells (College Code, SGPA, CGPA, Semester), and one
// or more marks tables whose header row has both "Subject Code" and
// "Subject Name" columns.
package parser

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/results-harvester/internal/results"
)

const minMarkColumns = 7

const (
	labelName        = "name"
	labelHallTicket  = "hall ticket no"
	labelCollegeCode = "college code"
	labelSGPA        = "sgpa"
	labelCGPA        = "cgpa"
	labelSemester    = "semester"
)

var knownLabels = []string{labelName, labelHallTicket, labelCollegeCode, labelSGPA, labelCGPA, labelSemester}

// Parser parses result pages. The zero value is ready to use.
type Parser struct{}

// New returns a Parser.
func New() *Parser {
	return &Parser{}
}

// Parse extracts the record for identifier. A page without the Name anchor
// is results.ErrNotFound, or results.ErrParseIncomplete when it nevertheless
// carries marks. Neither produces a partial record.
func (p *Parser) Parse(identifier string, body []byte) (results.ResultRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return results.ResultRecord{}, fmt.Errorf("parse %s: %w: %w", identifier, results.ErrParseIncomplete, err)
	}

	labels := labelledValues(doc)
	subjects, marks := marksTables(doc)

	name := labels[labelName]
	if name == "" {
		if len(marks) > 0 {
			return results.ResultRecord{}, fmt.Errorf("parse %s: name missing beside %d marks: %w",
				identifier, len(marks), results.ErrParseIncomplete)
		}
		return results.ResultRecord{}, fmt.Errorf("parse %s: %w", identifier, results.ErrNotFound)
	}
	if shown := labels[labelHallTicket]; shown != "" && !strings.EqualFold(shown, identifier) {
		return results.ResultRecord{}, fmt.Errorf("parse %s: page is for %s: %w", identifier, shown, results.ErrParseIncomplete)
	}

	return results.ResultRecord{
		Identifier:  identifier,
		Name:        name,
		CollegeCode: labels[labelCollegeCode],
		Semester:    labels[labelSemester],
		Status:      results.DeriveStatus(marks),
		SGPA:        parseAverage(labels[labelSGPA]),
		CGPA:        parseAverage(labels[labelCGPA]),
		Subjects:    subjects,
		Marks:       marks,
	}, nil
}

// labelledValues maps each known label cell to the text of the cell after it.
// The first occurrence of a label wins.
func labelledValues(doc *goquery.Document) map[string]string {
	values := make(map[string]string, len(knownLabels))
	doc.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
		label := normalizeLabel(cell.Text())
		if !slices.Contains(knownLabels, label) {
			return
		}
		if _, seen := values[label]; seen {
			return
		}
		value := strings.TrimSpace(cell.NextFiltered("td, th").Text())
		if value == "" {
			return
		}
		values[label] = value
	})
	return values
}

func normalizeLabel(text string) string {
	text = strings.ToLower(strings.Join(strings.Fields(text), " "))
	text = strings.TrimSuffix(text, ":")
	return strings.TrimSpace(strings.TrimSuffix(text, "."))
}

// marksTables reads every marks table. Subject codes are unique in the output.
func marksTables(doc *goquery.Document) ([]results.Subject, []results.Mark) {
	var (
		subjects []results.Subject
		marks    []results.Mark
		seen     = make(map[string]struct{})
	)
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		headers := table.Find("th").Map(func(_ int, th *goquery.Selection) string {
			return strings.TrimSpace(th.Text())
		})
		if !slices.Contains(headers, "Subject Code") || !slices.Contains(headers, "Subject Name") {
			return
		}
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cols := row.ChildrenFiltered("td").Map(func(_ int, td *goquery.Selection) string {
				return strings.TrimSpace(td.Text())
			})
			if len(cols) < minMarkColumns {
				return
			}
			code, name := cols[0], cols[1]
			if code == "" || name == "" {
				return
			}
			if _, dup := seen[code]; dup {
				return
			}
			seen[code] = struct{}{}
			credits := parseCredits(cols[6])
			subjects = append(subjects, results.Subject{Code: code, Name: name, Credits: credits})
			marks = append(marks, results.Mark{
				SubjectCode: code,
				SubjectName: name,
				Internal:    cols[2],
				External:    cols[3],
				Total:       cols[4],
				Grade:       cols[5],
				Credits:     credits,
			})
		})
	})
	return subjects, marks
}

func parseCredits(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// parseAverage returns nil unless the page shows a real number.
func parseAverage(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
