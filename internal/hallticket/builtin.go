package hallticket

import "strconv"

// Built-in profile names.
const (
	ProfileXZ            = "xz"
	ProfileAutonomousR22 = "autonomous-r22"
)

// RegularIDWidth is the width of the all-digit regular hall tickets
// (22 + four-digit college + six-digit branch/roll).
const RegularIDWidth = 12

var (
	numericRolls = Numeric("numeric", 1, 999, 4)
	bFormatRolls = Lettered("b-format", 1, 99, 2, "B", 1, 9)
	aFormatRolls = Lettered("a-format", 5, 99, 2, "A", 1, 9)
)

// Builtin returns the profiles shipped with the harvester.
func Builtin() []Profile {
	return []Profile{XZ(), AutonomousR22()}
}

// XZ is the single-college profile with CSE regular and IT lateral intakes.
func XZ() Profile {
	return Profile{
		Name: ProfileXZ,
		Regulations: []Regulation{
			{Name: "R22", YearPrefix: "23"},
			{Name: "R23", YearPrefix: "24"},
			{Name: "R25", YearPrefix: "25"},
		},
		Colleges: []string{"XZ"},
		Branches: []Branch{
			{Code: "1A", Name: "CSE (Regular)", Kind: KindRegular, Formats: []RollFormat{numericRolls, aFormatRolls}},
			{Code: "5A", Name: "IT (Lateral)", Kind: KindLateral, Formats: []RollFormat{numericRolls, bFormatRolls, aFormatRolls}},
		},
	}
}

// AutonomousR22 covers the autonomous colleges admitted under R22.
func AutonomousR22() Profile {
	var colleges []string
	for _, row := range "ABCDEFGHJKLMNPRSTVW" {
		for n := 1; n <= 9; n++ {
			colleges = append(colleges, string(row)+strconv.Itoa(n))
		}
	}
	colleges = append(colleges, "XZ")

	branches := []struct{ code, name string }{
		{"1A", "CSE"},
		{"1B", "CSE (AI&ML)"},
		{"1C", "CSE (DS)"},
		{"2A", "ECE"},
		{"3A", "EEE"},
		{"4A", "MECH"},
		{"5A", "CIVIL"},
		{"6A", "IT"},
		{"7A", "CSE (Cyber Security)"},
		{"8A", "AIDS"},
	}
	p := Profile{
		Name:        ProfileAutonomousR22,
		Regulations: []Regulation{{Name: "R22", YearPrefix: "23"}},
		Colleges:    colleges,
	}
	for _, b := range branches {
		p.Branches = append(p.Branches, Branch{Code: b.code, Name: b.name, Kind: KindRegular, Formats: []RollFormat{numericRolls}})
	}
	return p
}
