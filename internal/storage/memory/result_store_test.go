package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/results-harvester/internal/results"
)

func gpa(f float64) *float64 { return &f }

func record(grade string) results.ResultRecord {
	marks := []results.Mark{
		{SubjectCode: "MA201BS", Internal: "24", External: "48", Total: "72", Grade: "A", Credits: 4},
		{SubjectCode: "CS205ES", Internal: "20", External: "21", Total: "41", Grade: grade, Credits: 3},
	}
	return results.ResultRecord{
		Identifier:   "23XZ1A0501",
		Name:         "ANANYA REDDY",
		CollegeCode:  "XZ",
		Regulation:   "R22",
		AcademicYear: "23",
		Status:       results.DeriveStatus(marks),
		SGPA:         gpa(7.45),
		Subjects: []results.Subject{
			{Code: "MA201BS", Name: "ODE", Credits: 4},
			{Code: "CS205ES", Name: "DATA STRUCTURES", Credits: 3},
		},
		Marks: marks,
	}
}

func TestResultStoreUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewResultStore(false)
	rec := record("F")

	require.NoError(t, store.SaveRecord(ctx, rec))
	first, err := store.GetRecord(ctx, rec.Identifier)
	require.NoError(t, err)

	require.NoError(t, store.SaveRecord(ctx, rec))
	second, err := store.GetRecord(ctx, rec.Identifier)
	require.NoError(t, err)

	students, subjects, marks := store.Counts()
	require.Equal(t, 1, students)
	require.Equal(t, 2, subjects)
	require.Equal(t, 2, marks)
	first.FetchedAt = second.FetchedAt
	require.Equal(t, first, second)
}

func TestResultStoreMarkCorrectionUpdatesInPlace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewResultStore(false)
	require.NoError(t, store.SaveRecord(ctx, record("F")))

	corrected := record("C")
	corrected.Marks[1].External = "31"
	corrected.Marks[1].Total = "51"
	require.NoError(t, store.SaveRecord(ctx, corrected))

	got, err := store.GetRecord(ctx, corrected.Identifier)
	require.NoError(t, err)
	require.Equal(t, results.StatusPass, got.Status)
	require.Len(t, got.Marks, 2)
	require.Equal(t, "C", got.Marks[1].Grade)
	require.Equal(t, "51", got.Marks[1].Total)
	_, _, marks := store.Counts()
	require.Equal(t, 2, marks)
}

func TestResultStoreCatalogFirstWriterWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewResultStore(false)
	require.NoError(t, store.SaveRecord(ctx, record("A")))

	other := record("A")
	other.Identifier = "23XZ1A0502"
	other.Subjects[0].Name = "ORDINARY DIFFERENTIAL EQUATIONS"
	require.NoError(t, store.SaveRecord(ctx, other))

	got, err := store.GetRecord(ctx, other.Identifier)
	require.NoError(t, err)
	require.Equal(t, "ODE", got.Subjects[0].Name)

	refreshing := NewResultStore(true)
	require.NoError(t, refreshing.SaveRecord(ctx, record("A")))
	require.NoError(t, refreshing.SaveRecord(ctx, other))
	got, err = refreshing.GetRecord(ctx, other.Identifier)
	require.NoError(t, err)
	require.Equal(t, "ORDINARY DIFFERENTIAL EQUATIONS", got.Subjects[0].Name)
}

func TestResultStoreRejectsPartialRecord(t *testing.T) {
	t.Parallel()

	store := NewResultStore(false)
	rec := record("A")
	rec.Name = ""
	err := store.SaveRecord(context.Background(), rec)
	require.ErrorIs(t, err, results.ErrPersistence)
	students, _, _ := store.Counts()
	require.Zero(t, students)
}

func TestResultStoreMissingIsNotFound(t *testing.T) {
	t.Parallel()

	_, err := NewResultStore(false).GetRecord(context.Background(), "23XZ1A0999")
	require.ErrorIs(t, err, results.ErrNotFound)
}
