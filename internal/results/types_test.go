package results

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		marks []Mark
		want  Status
	}{
		{name: "one fail", marks: []Mark{{Grade: "A"}, {Grade: "F"}}, want: StatusFail},
		{name: "all pass", marks: []Mark{{Grade: "A"}, {Grade: "B"}}, want: StatusPass},
		{name: "absent", marks: []Mark{{Grade: "O"}, {Grade: "Ab"}}, want: StatusFail},
		{name: "absent upper case", marks: []Mark{{Grade: " AB "}}, want: StatusFail},
		{name: "no marks", marks: nil, want: StatusPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, DeriveStatus(tt.marks))
		})
	}
}

func TestValidateRejectsPartialRecords(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, ResultRecord{Identifier: "23XZ1A0501"}.Validate(), ErrIncompleteRecord)
	require.ErrorIs(t, ResultRecord{Name: "A STUDENT"}.Validate(), ErrIncompleteRecord)
	require.ErrorIs(t, ResultRecord{
		Identifier: "23XZ1A0501",
		Name:       "A STUDENT",
		Marks:      []Mark{{Grade: "A"}},
	}.Validate(), ErrIncompleteRecord)
	require.NoError(t, ResultRecord{Identifier: "23XZ1A0501", Name: "A STUDENT"}.Validate())
}

func TestParseIncompleteMatchesNotFound(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("parse 23XZ1A0501: %w", ErrParseIncomplete)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, err, ErrParseIncomplete)
	require.False(t, errors.Is(ErrNotFound, ErrParseIncomplete))
}

func TestChunkStatsMerge(t *testing.T) {
	t.Parallel()

	total := ChunkStats{Processed: 2, Success: 1, Failed: []string{"A"}}
	total.Merge(ChunkStats{Processed: 3, NotFound: 2, ParseIncomplete: 1, Failed: []string{"B"}})
	require.Equal(t, 5, total.Processed)
	require.Equal(t, 1, total.Success)
	require.Equal(t, 2, total.NotFound)
	require.Equal(t, 1, total.ParseIncomplete)
	require.Equal(t, 2, total.FailedCount())
}
