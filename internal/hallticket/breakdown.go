package hallticket

// FormatSummary describes one roll format inside a breakdown row.
type FormatSummary struct {
	Name   string `json:"name"`
	Range  string `json:"range"`
	Count  int64  `json:"count"`
	Sample string `json:"sample"`
}

// BreakdownRow summarizes one (regulation, college, branch) block.
type BreakdownRow struct {
	Regulation string          `json:"regulation"`
	YearPrefix string          `json:"year"`
	College    string          `json:"college"`
	Branch     string          `json:"branch"`
	BranchCode string          `json:"branch_code"`
	Kind       Kind            `json:"kind"`
	Total      int64           `json:"total_rolls"`
	Formats    []FormatSummary `json:"formats"`
}

// Breakdown lists each block with its formats and one sample identifier per
// format. It is an operator sanity check and is not used for enumeration.
func (p *Profile) Breakdown() []BreakdownRow {
	rows := make([]BreakdownRow, 0, len(p.Regulations)*len(p.Colleges)*len(p.Branches))
	for _, reg := range p.Regulations {
		for _, college := range p.Colleges {
			for _, b := range p.Branches {
				row := BreakdownRow{
					Regulation: reg.Name,
					YearPrefix: reg.YearPrefix,
					College:    college,
					Branch:     b.Name,
					BranchCode: b.Code,
					Kind:       b.Kind,
					Total:      b.Count(),
				}
				for _, f := range b.Formats {
					row.Formats = append(row.Formats, FormatSummary{
						Name:   f.Name,
						Range:  f.Range(),
						Count:  f.Count(),
						Sample: reg.YearPrefix + college + b.Code + f.At(0),
					})
				}
				rows = append(rows, row)
			}
		}
	}
	return rows
}
