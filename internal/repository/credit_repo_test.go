package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/credit_go_server/internal/model"
	"github.com/qs3c/credit_go_server/internal/testutil"
)

func TestCreditRepository_ListConsumable_FIFO(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCreditRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()
	user := testutil.TestUser(t, db)

	newer := testutil.TestGrant(t, db, user.ID, 50, testutil.WithIssuedAt(now.Add(-time.Hour)))
	older := testutil.TestGrant(t, db, user.ID, 50, testutil.WithIssuedAt(now.Add(-2*time.Hour)))
	// 已用完
	testutil.TestGrant(t, db, user.ID, 50, testutil.WithConsumed(50), testutil.WithIssuedAt(now.Add(-3*time.Hour)))
	// 已过期
	testutil.TestGrant(t, db, user.ID, 50,
		testutil.WithIssuedAt(now.Add(-4*time.Hour)),
		testutil.WithExpiresAt(now.Add(-time.Minute)))

	grants, err := repo.ListConsumable(ctx, user.ID, now)
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, older.ID, grants[0].ID)
	assert.Equal(t, newer.ID, grants[1].ID)
}

func TestCreditRepository_SumAvailable(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCreditRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()
	user := testutil.TestUser(t, db)
	other := testutil.TestUser(t, db)

	testutil.TestGrant(t, db, user.ID, 100, testutil.WithConsumed(30))
	testutil.TestGrant(t, db, user.ID, 20, testutil.WithExpiresAt(now.Add(time.Hour)))
	testutil.TestGrant(t, db, user.ID, 500, testutil.WithExpiresAt(now.Add(-time.Hour)))
	testutil.TestGrant(t, db, other.ID, 1000)

	total, err := repo.SumAvailable(ctx, user.ID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(90), total)

	empty, err := repo.SumAvailable(ctx, 99999, now)
	require.NoError(t, err)
	assert.Zero(t, empty)
}

func TestCreditRepository_Debit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCreditRepository(db)
	ctx := context.Background()
	user := testutil.TestUser(t, db)
	grant := testutil.TestGrant(t, db, user.ID, 100, testutil.WithConsumed(60))

	ok, err := repo.Debit(ctx, grant.ID, 40)
	require.NoError(t, err)
	assert.True(t, ok)

	// 剩余为 0，不能再扣
	ok, err = repo.Debit(ctx, grant.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	found, err := repo.GetByID(ctx, grant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), found.Consumed)
}

// 条件更新在 MySQL 行锁下不会超扣
func TestCreditRepository_Debit_ConcurrentMySQL(t *testing.T) {
	db := testutil.SetupTestDBWithMySQL(t)
	defer testutil.CleanupTestDB(t, db)
	testutil.TruncateTables(t, db)

	repo := NewCreditRepository(db)
	ctx := context.Background()
	user := testutil.TestUser(t, db)
	grant := testutil.TestGrant(t, db, user.ID, 100)

	var wg sync.WaitGroup
	var succeeded int64
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Debit(ctx, grant.ID, 7)
			if err == nil && ok {
				atomic.AddInt64(&succeeded, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(14), succeeded)
	found, err := repo.GetByID(ctx, grant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(98), found.Consumed)
}

func TestCreditRepository_NextExpiry(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCreditRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	user := testutil.TestUser(t, db)

	next, err := repo.NextExpiry(ctx, user.ID, now)
	require.NoError(t, err)
	assert.Nil(t, next)

	testutil.TestGrant(t, db, user.ID, 100)
	testutil.TestGrant(t, db, user.ID, 10, testutil.WithExpiresAt(now.Add(-time.Hour)))
	testutil.TestGrant(t, db, user.ID, 10, testutil.WithExpiresAt(now.Add(time.Minute)), testutil.WithConsumed(10))
	testutil.TestGrant(t, db, user.ID, 10, testutil.WithExpiresAt(now.Add(3*time.Hour)))
	testutil.TestGrant(t, db, user.ID, 10, testutil.WithExpiresAt(now.Add(2*time.Hour)))

	// 已过期和已用完的不算
	next, err = repo.NextExpiry(ctx, user.ID, now)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.Equal(now.Add(2*time.Hour)))
}

func TestCreditRepository_GetByIDForUpdate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	ctx := context.Background()
	user := testutil.TestUser(t, db)
	grant := testutil.TestGrant(t, db, user.ID, 100, testutil.WithConsumed(40))

	err := db.Transaction(func(tx *gorm.DB) error {
		locked, err := NewCreditRepository(db).WithTx(tx).GetByIDForUpdate(ctx, grant.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(60), locked.Remaining())
		return nil
	})
	require.NoError(t, err)

	_, err = NewCreditRepository(db).GetByIDForUpdate(ctx, 99999)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestCreditRepository_Restore_FloorsAtZero(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCreditRepository(db)
	ctx := context.Background()
	user := testutil.TestUser(t, db)
	grant := testutil.TestGrant(t, db, user.ID, 100, testutil.WithConsumed(30))

	require.NoError(t, repo.Restore(ctx, grant.ID, 10))
	found, err := repo.GetByID(ctx, grant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), found.Consumed)

	require.NoError(t, repo.Restore(ctx, grant.ID, 50))
	found, err = repo.GetByID(ctx, grant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), found.Consumed)
}

func TestCreditRepository_CreateIfAbsent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCreditRepository(db)
	ctx := context.Background()
	user := testutil.TestUser(t, db)
	key := "daily_free:2026-10-17"

	newGrant := func() *model.CreditGrant {
		k := key
		return &model.CreditGrant{
			UserID:   user.ID,
			Type:     model.CreditTypeDailyFree,
			Amount:   10,
			IssuedAt: time.Now().UTC(),
			DedupKey: &k,
		}
	}

	created, err := repo.CreateIfAbsent(ctx, newGrant())
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateIfAbsent(ctx, newGrant())
	require.NoError(t, err)
	assert.False(t, created)

	var count int64
	require.NoError(t, db.Model(&model.CreditGrant{}).Where("user_id = ?", user.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// 没有去重键的额度互不冲突
	require.NoError(t, repo.Create(ctx, &model.CreditGrant{UserID: user.ID, Type: "monthly_basic", Amount: 1, IssuedAt: time.Now().UTC()}))
	require.NoError(t, repo.Create(ctx, &model.CreditGrant{UserID: user.ID, Type: "monthly_basic", Amount: 1, IssuedAt: time.Now().UTC()}))
}

func TestCreditRepository_ExistsIssuedSince(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCreditRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()
	user := testutil.TestUser(t, db)

	testutil.TestGrant(t, db, user.ID, 10,
		testutil.WithGrantType(model.CreditTypeDailyFree),
		testutil.WithIssuedAt(now.Add(-48*time.Hour)))

	exists, err := repo.ExistsIssuedSince(ctx, user.ID, model.CreditTypeDailyFree, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = repo.ExistsIssuedSince(ctx, user.ID, model.CreditTypeDailyFree, now.Add(-72*time.Hour))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreditRepository_TypesByIDs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCreditRepository(db)
	ctx := context.Background()
	user := testutil.TestUser(t, db)

	g1 := testutil.TestGrant(t, db, user.ID, 10, testutil.WithGrantType(model.CreditTypeDailyFree))
	g2 := testutil.TestGrant(t, db, user.ID, 10, testutil.WithGrantType("credit_pack_mini_30d"))

	types, err := repo.TypesByIDs(ctx, []int64{g1.ID, g2.ID})
	require.NoError(t, err)
	assert.Equal(t, model.CreditTypeDailyFree, types[g1.ID])
	assert.Equal(t, "credit_pack_mini_30d", types[g2.ID])

	empty, err := repo.TypesByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCreditRepository_ExpiredUnusedStats(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCreditRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()
	user := testutil.TestUser(t, db)

	testutil.TestGrant(t, db, user.ID, 10, testutil.WithConsumed(4), testutil.WithExpiresAt(now.Add(-time.Hour)))
	testutil.TestGrant(t, db, user.ID, 10, testutil.WithConsumed(10), testutil.WithExpiresAt(now.Add(-time.Hour)))
	testutil.TestGrant(t, db, user.ID, 10, testutil.WithExpiresAt(now.Add(time.Hour)))

	count, remaining, err := repo.ExpiredUnusedStats(ctx, now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, int64(6), remaining)
}
