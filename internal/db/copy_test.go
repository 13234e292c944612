package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyInto_EmptyRows(t *testing.T) {
	n, err := CopyInto(context.TODO(), nil, "geo", "layer_features", []string{"a"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyInto_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"geo", "layer_features"}, []string{"name", "lat"}).WillReturnResult(2)

	rows := [][]any{{"a", 1.0}, {"b", 2.0}}
	n, err := CopyInto(context.Background(), mock, "geo", "layer_features", []string{"name", "lat"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyInto_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"geo", "layer_features"}, []string{"name"}).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyInto(context.Background(), mock, "geo", "layer_features", []string{"name"}, [][]any{{"a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO geo.layer_features")
	assert.NoError(t, mock.ExpectationsWereMet())
}
