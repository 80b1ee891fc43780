package geo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `zip,county,state,city
10501,Westchester County,ny,Amawalk
2108,SUFFOLK,MA,Boston
10501,Westchester,NY,Amawalk Hamlet
abcde,Nowhere,ZZ,
06901,Fairfield,Connecticut,Stamford
`

func TestParseCSV(t *testing.T) {
	locs, stats, err := ParseCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Read)
	assert.Equal(t, 2, stats.Rejected)
	require.Len(t, locs, 2)

	assert.Equal(t, Location{ZipCode: "10501", CountyName: "Westchester", StateCode: "NY", City: "Amawalk Hamlet"}, locs[0])
	assert.Equal(t, Location{ZipCode: "02108", CountyName: "Suffolk", StateCode: "MA", City: "Boston"}, locs[1])
}

func TestParseCSV_Empty(t *testing.T) {
	locs, stats, err := ParseCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, locs)
	assert.Zero(t, stats.Read)
}

func TestLoadCSV(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "zip_county_map"`).
		WithArgs("10501", "Westchester", "NY", "Amawalk Hamlet", "02108", "Suffolk", "MA", "Boston").
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	stats, err := LoadCSV(context.Background(), mock, strings.NewReader(sampleCSV))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Loaded)
	assert.Equal(t, 2, stats.Rejected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadCSV_RollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "zip_county_map"`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = LoadCSV(context.Background(), mock, strings.NewReader(sampleCSV))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "geo: load reference map")
	assert.NoError(t, mock.ExpectationsWereMet())
}
