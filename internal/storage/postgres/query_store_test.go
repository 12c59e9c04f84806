package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/geoinforme/parcelreport/internal/report"
)

func TestCreateQueryInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewQueryStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	q := report.Query{
		ID:        "query-1",
		UserID:    "user-1",
		Reference: "9872023VH5797S0001WX",
		Status:    report.StatusCreated,
		CreatedAt: now,
	}

	mock.ExpectExec("INSERT INTO queries").
		WithArgs(
			q.ID,
			q.UserID,
			q.Reference,
			string(report.StatusCreated),
			now,
			(*time.Time)(nil),
			false,
			[]byte(`null`),
			[]byte(`null`),
			[]byte(`null`),
			"",
			[]byte(`null`),
			[]byte(`null`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateQuery(context.Background(), q))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateQueryMissingRowIsNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewQueryStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE queries SET").
		WithArgs(
			"missing",
			string(report.StatusFailed),
			(*time.Time)(nil),
			false,
			[]byte(`null`),
			[]byte(`null`),
			[]byte(`null`),
			"",
			[]byte(`null`),
			[]byte(`null`),
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.UpdateQuery(context.Background(), report.Query{ID: "missing", Status: report.StatusFailed})
	require.ErrorIs(t, err, report.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetQueryDecodesJSONColumns(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewQueryStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	completed := now.Add(5 * time.Second)

	rows := pgxmock.NewRows([]string{
		"id", "user_id", "reference", "status", "created_at", "completed_at",
		"degraded", "fetch_results", "artifacts", "missing_artifacts",
		"archive_uri", "failure", "transitions",
	}).AddRow(
		"query-1", "user-1", "9872023VH5797S0001WX", "completed", now, &completed,
		true,
		[]byte(`{"registry":{"source":"registry","status":"ok","attempts":2,"retrieved_at":"2023-11-14T22:13:20Z"}}`),
		[]byte(`{"kml":{"format":"kml","path":"/tmp/x.kml","size":10,"checksum":"abc"}}`),
		[]byte(`{"plan":"portal down"}`),
		"gs://bucket/query-1/REF_informe.zip",
		[]byte(`null`),
		[]byte(`[{"from":"created","to":"admitted","at":"2023-11-14T22:13:20Z"}]`),
	)

	mock.ExpectQuery("SELECT(.|\n)+FROM queries").
		WithArgs("query-1").
		WillReturnRows(rows)

	q, err := store.GetQuery(context.Background(), "query-1")
	require.NoError(t, err)
	require.Equal(t, report.StatusCompleted, q.Status)
	require.True(t, q.Degraded)
	require.Equal(t, 2, q.FetchResults[report.SourceRegistry].Attempts)
	require.Equal(t, "abc", q.Artifacts[report.FormatKML].Checksum)
	require.Equal(t, "portal down", q.MissingArtifacts[report.FormatPlan])
	require.Nil(t, q.Failure)
	require.Len(t, q.Transitions, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetQueryMissingRowIsNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewQueryStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT(.|\n)+FROM queries").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.GetQuery(context.Background(), "missing")
	require.ErrorIs(t, err, report.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
