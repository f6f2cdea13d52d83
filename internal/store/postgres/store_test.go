package postgres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Forest-Protocols/safe-scan-provider/internal/errors"
	"github.com/Forest-Protocols/safe-scan-provider/internal/model"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestGetOrCreateProtocolReturnsExistingRow(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"id", "address", "detailscid"}).AddRow(int64(1), "0xproto", "cid1")
	mock.ExpectQuery(`SELECT id, address, details_cid AS detailscid FROM protocols WHERE address = \$1`).
		WithArgs("0xproto").
		WillReturnRows(rows)

	p, err := s.GetOrCreateProtocol(context.Background(), model.NewAddress("0xproto"), "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateProtocolInsertsWhenMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, address, details_cid AS detailscid FROM protocols WHERE address = \$1`).
		WithArgs("0xnew").
		WillReturnError(sql.ErrNoRows)

	rows := sqlmock.NewRows([]string{"id", "address", "details_cid"}).AddRow(int64(7), "0xnew", "cidX")
	mock.ExpectQuery(`INSERT INTO protocols`).
		WithArgs("0xnew", "cidX").
		WillReturnRows(rows)

	p, err := s.GetOrCreateProtocol(context.Background(), model.NewAddress("0xnew"), "cidX")
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.ID)
	assert.Equal(t, "cidX", p.DetailsCID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProtocolByAddressReturnsNilWhenMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, address, details_cid FROM protocols WHERE address = \$1`).
		WithArgs("0xmissing").
		WillReturnError(sql.ErrNoRows)

	p, err := s.GetProtocolByAddress(context.Background(), model.NewAddress("0xmissing"))
	require.NoError(t, err)
	assert.Nil(t, p)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProviderByOwnerScansGatewayID(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"id", "owner_address", "operator_address", "endpoint", "is_virtual", "gateway_provider_id", "details_cid"}).
		AddRow(int64(2), "0xowner", "0xop", "https://host", true, int64(1), "cid")
	mock.ExpectQuery(`SELECT \* FROM providers WHERE owner_address = \$1`).
		WithArgs("0xowner").
		WillReturnRows(rows)

	p, err := s.GetProviderByOwner(context.Background(), model.NewAddress("0xowner"))
	require.NoError(t, err)
	require.NotNil(t, p.GatewayProviderID)
	assert.Equal(t, int64(1), *p.GatewayProviderID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateResourceDefaultsGroupName(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO resources`).
		WithArgs(int64(1), int64(1), "svc", "0xowner", []byte(`{}`), model.StatusDeploying, "default", int64(5), int64(1)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.CreateResource(context.Background(), model.Resource{
		ID: 1, ProtocolID: 1, Name: "svc", OwnerAddress: model.NewAddress("0xowner"),
		OfferID: 5, ProviderID: 1, DeploymentStatus: model.StatusDeploying,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResourceExists(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"exists"}).AddRow(true)
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM resources WHERE id = \$1 AND pt_address_id = \$2\)`).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(rows)

	exists, err := s.ResourceExists(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDetailBlobNotFoundReturnsNotFoundError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT cid, content FROM detail_files WHERE cid = \$1`).
		WithArgs("ciddd").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetDetailBlob(context.Background(), "ciddd")
	assert.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetConfigReturnsFalseWhenMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT value FROM config WHERE key = \$1`).
		WithArgs("LAST_PROCESSED_BLOCK").
		WillReturnError(sql.ErrNoRows)

	_, ok, err := s.GetConfig(context.Background(), "LAST_PROCESSED_BLOCK")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetConfigUpsertsOnConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO config`).
		WithArgs("k", "v").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SetConfig(context.Background(), "k", "v"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncDetailFilesDeletesAllWhenContentsEmpty(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM detail_files`).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	require.NoError(t, s.SyncDetailFiles(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
