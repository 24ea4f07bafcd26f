package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/stockledger/internal/account/domain"
	"github.com/smallbiznis/stockledger/internal/apperror"
	auditdomain "github.com/smallbiznis/stockledger/internal/audit/domain"
	"github.com/smallbiznis/stockledger/internal/testutil/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func TestRegisterDerivesNormalBalance(t *testing.T) {
	stack := fixture.New(t)
	stack.Currencies(t, "USD")
	ctx := context.Background()

	cases := map[accountdomain.AccountType]accountdomain.NormalBalance{
		accountdomain.AccountTypeAsset:         accountdomain.NormalBalanceDebit,
		accountdomain.AccountTypeExpense:       accountdomain.NormalBalanceDebit,
		accountdomain.AccountTypeContraRevenue: accountdomain.NormalBalanceDebit,
		accountdomain.AccountTypeLiability:     accountdomain.NormalBalanceCredit,
		accountdomain.AccountTypeEquity:        accountdomain.NormalBalanceCredit,
		accountdomain.AccountTypeRevenue:       accountdomain.NormalBalanceCredit,
	}
	for typ, want := range cases {
		account, err := stack.Accounts.Register(ctx, accountdomain.RegisterRequest{
			Code:         string(typ),
			Name:         string(typ),
			Type:         typ,
			CurrencyCode: "usd",
		})
		require.NoError(t, err)
		assert.Equal(t, want, account.NormalBalance, typ)
		assert.Equal(t, "USD", account.CurrencyCode)
		assert.True(t, account.BalanceFunctional.IsZero())
	}
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	stack := fixture.New(t)
	stack.Currencies(t, "USD")
	stack.Account(t, "1000", accountdomain.AccountTypeAsset, "USD", "")
	ctx := context.Background()

	_, err := stack.Accounts.Register(ctx, accountdomain.RegisterRequest{Code: "1000", Name: "Dup", Type: accountdomain.AccountTypeAsset, CurrencyCode: "USD"})
	assert.True(t, errors.Is(err, accountdomain.ErrDuplicateAccount))

	_, err = stack.Accounts.Register(ctx, accountdomain.RegisterRequest{Code: "1100", Name: "Bad type", Type: "income", CurrencyCode: "USD"})
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))

	_, err = stack.Accounts.Register(ctx, accountdomain.RegisterRequest{Code: "1100", Name: "No currency", Type: accountdomain.AccountTypeAsset, CurrencyCode: "EUR"})
	assert.True(t, errors.Is(err, accountdomain.ErrUnknownCurrency))

	_, err = stack.Accounts.Register(ctx, accountdomain.RegisterRequest{Code: "1100", Name: "Orphan", Type: accountdomain.AccountTypeAsset, CurrencyCode: "USD", ParentCode: "9999"})
	assert.True(t, errors.Is(err, accountdomain.ErrParentNotFound))

	_, err = stack.Accounts.Register(ctx, accountdomain.RegisterRequest{Code: "1100", Name: "Self", Type: accountdomain.AccountTypeAsset, CurrencyCode: "USD", ParentCode: "1100"})
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))
}

func TestParentWithActivityCannotTakeChildren(t *testing.T) {
	stack := fixture.New(t)
	stack.Currencies(t, "USD")
	stack.Account(t, "1100", accountdomain.AccountTypeAsset, "USD", "")
	stack.Account(t, "3100", accountdomain.AccountTypeEquity, "USD", "")
	stack.Post(t, "JE-1", day, fixture.Line("1100", "100"), fixture.Line("3100", "-100"))

	_, err := stack.Accounts.Register(context.Background(), accountdomain.RegisterRequest{
		Code:         "1110",
		Name:         "Petty cash",
		Type:         accountdomain.AccountTypeAsset,
		CurrencyCode: "USD",
		ParentCode:   "1100",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, accountdomain.ErrParentHasActivity))
}

func TestReparentRejectsCycles(t *testing.T) {
	stack := fixture.New(t)
	stack.Currencies(t, "USD")
	stack.Account(t, "1000", accountdomain.AccountTypeAsset, "USD", "")
	stack.Account(t, "1100", accountdomain.AccountTypeAsset, "USD", "1000")
	stack.Account(t, "1110", accountdomain.AccountTypeAsset, "USD", "1100")
	ctx := context.Background()

	_, err := stack.Accounts.Reparent(ctx, "1000", "1110")
	assert.True(t, errors.Is(err, accountdomain.ErrAccountCycle))

	_, err = stack.Accounts.Reparent(ctx, "1100", "1100")
	assert.True(t, errors.Is(err, accountdomain.ErrAccountCycle))

	moved, err := stack.Accounts.Reparent(ctx, "1110", "1000")
	require.NoError(t, err)
	require.NotNil(t, moved.ParentCode)
	assert.Equal(t, "1000", *moved.ParentCode)

	root, err := stack.Accounts.Reparent(ctx, "1110", "")
	require.NoError(t, err)
	assert.Nil(t, root.ParentCode)

	var count int64
	require.NoError(t, stack.DB.Model(&auditdomain.AuditLog{}).Where("action = ?", auditdomain.ActionAccountReparented).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestTreeAndLeaves(t *testing.T) {
	stack := fixture.New(t)
	stack.Currencies(t, "USD")
	stack.Chart(t)
	ctx := context.Background()

	leaf, err := stack.Accounts.IsLeaf(ctx, "1000")
	require.NoError(t, err)
	assert.False(t, leaf)
	leaf, err = stack.Accounts.IsLeaf(ctx, "1100")
	require.NoError(t, err)
	assert.True(t, leaf)

	children, err := stack.Accounts.Children(ctx, "1000")
	require.NoError(t, err)
	assert.Len(t, children, 3)

	stack.Post(t, "JE-1", day, fixture.Line("1100", "250"), fixture.Line("1200", "50"), fixture.Line("3100", "-300"))

	tree, err := stack.Accounts.Tree(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1100", "1200", "1300"}, tree.Leaves("1000"))
	assert.Equal(t, "300", tree.RollupFunctional("1000").String())
	assert.True(t, tree.IsAncestor("3000", "3100"))
	assert.False(t, tree.IsAncestor("3100", "3000"))
}

func TestApplyPostingRequiresTransaction(t *testing.T) {
	stack := fixture.New(t)
	stack.Currencies(t, "USD")
	stack.Account(t, "1100", accountdomain.AccountTypeAsset, "USD", "")

	err := stack.Accounts.ApplyPosting(context.Background(), nil, "1100", fixtureAmount("1"), fixtureAmount("1"))
	require.Error(t, err)

	account, err := stack.Accounts.Get(context.Background(), "1100")
	require.NoError(t, err)
	assert.Zero(t, account.PostedLines)
}

func fixtureAmount(v string) decimal.Decimal { return decimal.RequireFromString(v) }
