package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
)

func ptr(v float64) *float64 { return &v }

func sampleRun() Run {
	started := time.Unix(1700000000, 0).UTC()
	return Run{
		ID:         "0190a0b2-0000-7000-8000-000000000001",
		Stage:      "all",
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Schools:    1,
	}
}

func TestSaveRunCopiesRecords(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)

	run := sampleRun()
	reviews := []crawler.ReviewRecord{{School: "HETIC", Author: "Léa", Date: "01/02/2024", Rating: ptr(4.5), Content: "Bien"}}
	criteria := []crawler.CriterionRecord{
		{School: "HETIC", ThemeTitle: "International", ThemeID: 425, CriterionLabel: "Partenariats", ScoreOf10: ptr(8), RawNote: "16/20"},
		{School: "HETIC", ThemeTitle: "International", ThemeID: 425, CriterionLabel: "Mobilité", RawNote: "N/A"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs(run.ID, run.Stage, run.StartedAt, run.FinishedAt, false, 1, 0, 1, 2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"reviews"}, reviewColumns).WillReturnResult(1)
	mock.ExpectCopyFrom(pgx.Identifier{"criteria"}, criterionColumns).WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, store.SaveRun(context.Background(), run, reviews, criteria))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunSkipsEmptyTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "ecoles_")
	require.NoError(t, err)

	run := sampleRun()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ecoles_crawl_runs").
		WithArgs(run.ID, run.Stage, run.StartedAt, run.FinishedAt, false, 1, 0, 0, 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveRun(context.Background(), run, nil, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunRollsBackOnCopyFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)

	run := sampleRun()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO crawl_runs").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"reviews"}, reviewColumns).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = store.SaveRun(context.Background(), run, []crawler.ReviewRecord{{School: "HETIC"}}, nil)
	require.ErrorContains(t, err, "copy reviews")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "bad-prefix;")
	require.Error(t, err)

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, store.SaveRun(context.Background(), Run{}, nil, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
