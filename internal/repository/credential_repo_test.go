package repository

import (
	"context"
	"testing"

	"marketpay/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetByKey(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCredentialRepository(db)

	rows := sqlmock.NewRows([]string{"id", "external_business_id", "purchase_kind", "provider_account_id", "live_mode"}).
		AddRow(3, "biz-1", "ORDER", 4242, true)
	mock.ExpectQuery("SELECT (.+) FROM `oauth_credential`").WillReturnRows(rows)

	key := model.CredentialKey{ExternalBusinessID: "biz-1", PurchaseKind: model.PurchaseKindOrder}
	cred, err := repo.GetByKey(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, key, cred.Key())
	assert.Equal(t, int64(4242), cred.ProviderAccountID)
	assert.True(t, cred.LiveMode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByKeyNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCredentialRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM `oauth_credential`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByKey(context.Background(), model.CredentialKey{
		ExternalBusinessID: "biz-x",
		PurchaseKind:       model.PurchaseKindReservation,
	})
	assert.ErrorIs(t, err, ErrCredentialNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
