package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/credit_go_server/internal/model"
	"github.com/qs3c/credit_go_server/internal/testutil"
)

func newConsume(userID, grantID, amount int64) *model.CreditTransaction {
	return &model.CreditTransaction{
		UserID:        userID,
		CreditGrantID: grantID,
		Type:          model.CreditTxTypeConsume,
		Amount:        -amount,
		Entries: []model.CreditTransactionEntry{
			{CreditGrantID: grantID, Amount: -amount},
		},
	}
}

func TestCreditTransactionRepository_CreateWithEntries(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCreditTransactionRepository(db)
	ctx := context.Background()
	user := testutil.TestUser(t, db)
	grant := testutil.TestGrant(t, db, user.ID, 100)

	txn := newConsume(user.ID, grant.ID, 30)
	require.NoError(t, repo.Create(ctx, txn))
	assert.NotZero(t, txn.ID)

	found, err := repo.GetByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-30), found.Amount)
	require.Len(t, found.Entries, 1)
	assert.Equal(t, grant.ID, found.Entries[0].CreditGrantID)
	assert.Equal(t, txn.ID, found.Entries[0].TransactionID)
}

func TestCreditTransactionRepository_CreateRefund_OncePerConsume(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCreditTransactionRepository(db)
	ctx := context.Background()
	user := testutil.TestUser(t, db)
	grant := testutil.TestGrant(t, db, user.ID, 100)

	consume := newConsume(user.ID, grant.ID, 30)
	require.NoError(t, repo.Create(ctx, consume))

	newRefund := func() *model.CreditTransaction {
		related := consume.ID
		return &model.CreditTransaction{
			UserID:               user.ID,
			CreditGrantID:        grant.ID,
			Type:                 model.CreditTxTypeRefund,
			Amount:               30,
			RelatedTransactionID: &related,
			Entries: []model.CreditTransactionEntry{
				{CreditGrantID: grant.ID, Amount: 30},
			},
		}
	}

	created, err := repo.CreateRefund(ctx, newRefund())
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateRefund(ctx, newRefund())
	require.NoError(t, err)
	assert.False(t, created)

	exists, err := repo.ExistsRefundOf(ctx, consume.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	var entries int64
	require.NoError(t, db.Model(&model.CreditTransactionEntry{}).Count(&entries).Error)
	assert.Equal(t, int64(2), entries)
}

func TestCreditTransactionRepository_ListByUser(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCreditTransactionRepository(db)
	ctx := context.Background()
	user := testutil.TestUser(t, db)
	grant := testutil.TestGrant(t, db, user.ID, 100)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, newConsume(user.ID, grant.ID, 1)))
	}

	txns, total, err := repo.ListByUser(ctx, user.ID, "", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, txns, 2)
	assert.Greater(t, txns[0].ID, txns[1].ID)

	txns, total, err = repo.ListByUser(ctx, user.ID, model.CreditTxTypeRefund, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, txns)
}

func TestCreditTransactionRepository_ConsumeStats(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCreditTransactionRepository(db)
	ctx := context.Background()
	user := testutil.TestUser(t, db)
	grant := testutil.TestGrant(t, db, user.ID, 100)

	require.NoError(t, repo.Create(ctx, newConsume(user.ID, grant.ID, 10)))
	require.NoError(t, repo.Create(ctx, newConsume(user.ID, grant.ID, 20)))

	total, count, err := repo.ConsumeStats(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), total)
	assert.Equal(t, int64(2), count)
}
