package main

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func assertResponse(t *testing.T, ctx *RPCContext, expectedMethod string) *RPCData {
	res := ctx.Message.Res
	require.NotNil(t, res)
	require.Equal(t, expectedMethod, res.Method)
	return res
}

func assertErrorResponse(t *testing.T, ctx *RPCContext, expectedContains string) {
	res := ctx.Message.Res
	require.NotNil(t, res)
	require.Equal(t, "error", res.Method)

	errorParams, ok := res.Params.(ErrorResponse)
	require.True(t, ok, "Response parameter should be an ErrorResponse")

	require.Contains(t, errorParams.Error, expectedContains)
}

func TestRPCRouterHandleCreateAccount(t *testing.T) {
	t.Run("Successfully create account", func(t *testing.T) {
		t.Parallel()

		router, db, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		ctx := createRPCContext(1, "create_account", map[string]interface{}{
			"code": "6000",
			"name": "Marketing Expense",
			"type": "expense",
		})
		router.HandleCreateAccount(ctx)

		res := assertResponse(t, ctx, "create_account")
		account, ok := res.Params.(AccountResponse)
		require.True(t, ok, "Response parameter should be an AccountResponse")
		assert.Equal(t, "6000", account.Code)
		assert.Equal(t, "Marketing Expense", account.Name)
		assert.Equal(t, "expense", account.Type)
		assert.Equal(t, "active", account.Status)
		assert.False(t, account.CashEquivalent)

		var stored Account
		require.NoError(t, db.Where("code = ?", "6000").First(&stored).Error)
		assert.Equal(t, AccountStatusActive, stored.Status)
	})

	t.Run("Cash equivalent flag is stored", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		ctx := createRPCContext(2, "create_account", map[string]interface{}{
			"code":            "1050",
			"name":            "Money Market Fund",
			"type":            "asset",
			"cash_equivalent": true,
		})
		router.HandleCreateAccount(ctx)

		res := assertResponse(t, ctx, "create_account")
		account := res.Params.(AccountResponse)
		assert.True(t, account.CashEquivalent)
	})

	t.Run("Duplicate account code", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		ctx := createRPCContext(3, "create_account", map[string]interface{}{
			"code": "1000",
			"name": "Second Cash",
			"type": "asset",
		})
		router.HandleCreateAccount(ctx)

		assertErrorResponse(t, ctx, "account code already exists: 1000")
	})

	t.Run("Invalid account type", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		ctx := createRPCContext(4, "create_account", map[string]interface{}{
			"code": "3000",
			"name": "Owner Equity",
			"type": "equity",
		})
		router.HandleCreateAccount(ctx)

		assertErrorResponse(t, ctx, "invalid account type: equity")
	})

	t.Run("Missing required fields", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		ctx := createRPCContext(5, "create_account", map[string]interface{}{"code": "6000"})
		router.HandleCreateAccount(ctx)

		assertErrorResponse(t, ctx, "failed to parse parameters")
	})
}

func TestRPCRouterHandleUpdateAccount(t *testing.T) {
	t.Run("Successfully rename account", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		ctx := createRPCContext(1, "update_account", map[string]interface{}{
			"code": "1000",
			"name": "Petty Cash",
		})
		router.HandleUpdateAccount(ctx)

		res := assertResponse(t, ctx, "update_account")
		account, ok := res.Params.(AccountResponse)
		require.True(t, ok, "Response parameter should be an AccountResponse")
		assert.Equal(t, "Petty Cash", account.Name)
		// The cash flag stays untouched when only the name changes
		assert.True(t, account.CashEquivalent)
	})

	t.Run("Toggle cash equivalent flag", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		ctx := createRPCContext(2, "update_account", map[string]interface{}{
			"code":            "1000",
			"cash_equivalent": false,
		})
		router.HandleUpdateAccount(ctx)

		res := assertResponse(t, ctx, "update_account")
		account := res.Params.(AccountResponse)
		assert.False(t, account.CashEquivalent)
		assert.Equal(t, "Cash in Hand", account.Name)
	})

	t.Run("Unknown account code", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		ctx := createRPCContext(3, "update_account", map[string]interface{}{
			"code": "9999",
			"name": "Ghost",
		})
		router.HandleUpdateAccount(ctx)

		assertErrorResponse(t, ctx, "account not found: 9999")
	})
}

func TestRPCRouterHandleDeactivateAccount(t *testing.T) {
	t.Run("Successfully deactivate unused account", func(t *testing.T) {
		t.Parallel()

		router, db, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		ctx := createRPCContext(1, "deactivate_account", map[string]interface{}{"code": "5200"})
		router.HandleDeactivateAccount(ctx)

		res := assertResponse(t, ctx, "deactivate_account")
		account, ok := res.Params.(AccountResponse)
		require.True(t, ok, "Response parameter should be an AccountResponse")
		assert.Equal(t, "inactive", account.Status)

		var stored Account
		require.NoError(t, db.Where("code = ?", "5200").First(&stored).Error)
		assert.Equal(t, AccountStatusInactive, stored.Status)
	})

	t.Run("Refuse non-zero balance without force", func(t *testing.T) {
		t.Parallel()

		router, db, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedRouterLedger(t, router, db)

		ctx := createRPCContext(2, "deactivate_account", map[string]interface{}{"code": "1000"})
		router.HandleDeactivateAccount(ctx)

		assertErrorResponse(t, ctx, "account carries a non-zero posted balance: 1000 has 700")
	})

	t.Run("Force deactivation overrides the balance check", func(t *testing.T) {
		t.Parallel()

		router, db, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedRouterLedger(t, router, db)

		ctx := createRPCContext(3, "deactivate_account", map[string]interface{}{
			"code":  "1000",
			"force": true,
		})
		router.HandleDeactivateAccount(ctx)

		res := assertResponse(t, ctx, "deactivate_account")
		account := res.Params.(AccountResponse)
		assert.Equal(t, "inactive", account.Status)
	})
}

func TestRPCRouterHandleReactivateAccount(t *testing.T) {
	t.Run("Successfully reactivate account", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		deactivateCtx := createRPCContext(1, "deactivate_account", map[string]interface{}{"code": "5200"})
		router.HandleDeactivateAccount(deactivateCtx)
		assertResponse(t, deactivateCtx, "deactivate_account")

		ctx := createRPCContext(2, "reactivate_account", map[string]interface{}{"code": "5200"})
		router.HandleReactivateAccount(ctx)

		res := assertResponse(t, ctx, "reactivate_account")
		account, ok := res.Params.(AccountResponse)
		require.True(t, ok, "Response parameter should be an AccountResponse")
		assert.Equal(t, "active", account.Status)
	})

	t.Run("Unknown account code", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		ctx := createRPCContext(3, "reactivate_account", map[string]interface{}{"code": "9999"})
		router.HandleReactivateAccount(ctx)

		assertErrorResponse(t, ctx, "account not found: 9999")
	})
}

func TestRPCRouterHandleCreateVoucher(t *testing.T) {
	t.Run("Successfully create draft with lines", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		params := getCreateVoucherParams("2026-03-01", "Office rent for March", []VoucherLineParams{
			debitLine("5000", 300),
			creditLine("1000", 300),
		})

		ctx := createRPCContext(1, "create_voucher", params)
		router.HandleCreateVoucher(ctx)

		res := assertResponse(t, ctx, "create_voucher")
		voucher, ok := res.Params.(VoucherResponse)
		require.True(t, ok, "Response parameter should be a VoucherResponse")
		assert.Equal(t, "V-000001", voucher.Number)
		assert.Equal(t, "2026-03-01", voucher.Date)
		assert.Equal(t, "draft", voucher.Status)
		assert.Empty(t, voucher.PostedAt)
		require.Len(t, voucher.Lines, 2)
		assert.Equal(t, "5000", voucher.Lines[0].AccountCode)
		assert.True(t, voucher.Lines[0].Debit.Equal(decimal.NewFromInt(300)))
		assert.True(t, voucher.TotalDebit.Equal(decimal.NewFromInt(300)))
		assert.True(t, voucher.TotalCredit.Equal(decimal.NewFromInt(300)))
	})

	t.Run("Explicit voucher number is kept", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		number := "JV-2026-001"
		params := getCreateVoucherParams("2026-03-01", "Opening entry", nil)
		params.Number = &number

		ctx := createRPCContext(2, "create_voucher", params)
		router.HandleCreateVoucher(ctx)

		res := assertResponse(t, ctx, "create_voucher")
		voucher := res.Params.(VoucherResponse)
		assert.Equal(t, "JV-2026-001", voucher.Number)

		// Reusing the number must be rejected
		retryCtx := createRPCContext(3, "create_voucher", params)
		router.HandleCreateVoucher(retryCtx)
		assertErrorResponse(t, retryCtx, "voucher number already exists: JV-2026-001")
	})

	t.Run("Duplicate submission is rejected", func(t *testing.T) {
		t.Parallel()

		router, db, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		params := getCreateVoucherParams("2026-03-02", "Duplicate submission probe", []VoucherLineParams{
			debitLine("1000", 75),
			creditLine("4000", 75),
		})

		ctx := createRPCContext(7, "create_voucher", params)
		router.HandleCreateVoucher(ctx)
		assertResponse(t, ctx, "create_voucher")

		// A client retry carries the identical request payload
		retry := createRPCContext(7, "create_voucher", params)
		retry.Message.Req.Timestamp = ctx.Message.Req.Timestamp
		router.HandleCreateVoucher(retry)
		assertErrorResponse(t, retry, "operation denied: the request has already been processed")

		// A fresh request id is a new submission, not a replay
		next := createRPCContext(8, "create_voucher", params)
		router.HandleCreateVoucher(next)
		assertResponse(t, next, "create_voucher")

		var count int64
		require.NoError(t, db.Model(&Voucher{}).Count(&count).Error)
		assert.Equal(t, int64(2), count)
	})

	t.Run("Unknown account in line", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		params := getCreateVoucherParams("2026-03-01", "Bad line", []VoucherLineParams{
			debitLine("9999", 100),
			creditLine("1000", 100),
		})

		ctx := createRPCContext(4, "create_voucher", params)
		router.HandleCreateVoucher(ctx)

		assertErrorResponse(t, ctx, "account not found: 9999")
	})

	t.Run("Negative amounts fail validation", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		params := getCreateVoucherParams("2026-03-01", "Negative line", []VoucherLineParams{
			debitLine("1000", -5),
			creditLine("4000", 5),
		})

		ctx := createRPCContext(5, "create_voucher", params)
		router.HandleCreateVoucher(ctx)

		assertErrorResponse(t, ctx, "failed to parse parameters")
	})

	t.Run("Invalid date", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		params := getCreateVoucherParams("03/01/2026", "Bad date", nil)

		ctx := createRPCContext(6, "create_voucher", params)
		router.HandleCreateVoucher(ctx)

		assertErrorResponse(t, ctx, "invalid date")
	})
}

func TestRPCRouterHandleAddVoucherLine(t *testing.T) {
	logger := LoggerFromContext(context.Background())

	t.Run("Successfully append line", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		draft, err := router.VoucherService.CreateDraft(getCreateVoucherParams("2026-03-01", "Supplies", []VoucherLineParams{
			debitLine("5100", 80),
			creditLine("1000", 50),
		}), logger)
		require.NoError(t, err)

		ctx := createRPCContext(1, "add_voucher_line", map[string]interface{}{
			"number":       draft.Number,
			"account_code": "1100",
			"credit":       float64(30),
		})
		router.HandleAddVoucherLine(ctx)

		res := assertResponse(t, ctx, "add_voucher_line")
		line, ok := res.Params.(VoucherLineResponse)
		require.True(t, ok, "Response parameter should be a VoucherLineResponse")
		assert.Equal(t, uint(3), line.Position)
		assert.Equal(t, "1100", line.AccountCode)
		assert.True(t, line.Credit.Equal(decimal.NewFromInt(30)))

		_, lines, err := router.VoucherService.GetVoucher(draft.Number)
		require.NoError(t, err)
		assert.Len(t, lines, 3)
	})

	t.Run("Posted voucher is immutable", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)
		posted := postedVoucher(t, router.VoucherService, "2026-03-01", 120)

		ctx := createRPCContext(2, "add_voucher_line", map[string]interface{}{
			"number":       posted.Number,
			"account_code": "1000",
			"debit":        float64(10),
		})
		router.HandleAddVoucherLine(ctx)

		assertErrorResponse(t, ctx, "voucher is posted and can no longer be modified: "+posted.Number)
	})

	t.Run("Exactly one side must be positive", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		draft, err := router.VoucherService.CreateDraft(getCreateVoucherParams("2026-03-01", "Empty line probe", nil), logger)
		require.NoError(t, err)

		ctx := createRPCContext(3, "add_voucher_line", map[string]interface{}{
			"number":       draft.Number,
			"account_code": "1000",
		})
		router.HandleAddVoucherLine(ctx)
		assertErrorResponse(t, ctx, "invalid line amounts: exactly one of debit or credit must be positive")

		bothCtx := createRPCContext(4, "add_voucher_line", map[string]interface{}{
			"number":       draft.Number,
			"account_code": "1000",
			"debit":        float64(10),
			"credit":       float64(10),
		})
		router.HandleAddVoucherLine(bothCtx)
		assertErrorResponse(t, bothCtx, "invalid line amounts: exactly one of debit or credit must be positive")
	})

	t.Run("More than two decimal places fail validation", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		draft, err := router.VoucherService.CreateDraft(getCreateVoucherParams("2026-03-01", "Precision probe", nil), logger)
		require.NoError(t, err)

		ctx := createRPCContext(5, "add_voucher_line", map[string]interface{}{
			"number":       draft.Number,
			"account_code": "1000",
			"debit":        "10.123",
		})
		router.HandleAddVoucherLine(ctx)

		assertErrorResponse(t, ctx, "failed to parse parameters")
	})

	t.Run("Unknown voucher", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		ctx := createRPCContext(6, "add_voucher_line", map[string]interface{}{
			"number":       "V-999999",
			"account_code": "1000",
			"debit":        float64(10),
		})
		router.HandleAddVoucherLine(ctx)

		assertErrorResponse(t, ctx, "voucher not found: V-999999")
	})
}

func TestRPCRouterHandleRemoveVoucherLine(t *testing.T) {
	logger := LoggerFromContext(context.Background())

	t.Run("Successfully remove line", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		draft, err := router.VoucherService.CreateDraft(getCreateVoucherParams("2026-03-01", "Supplies", []VoucherLineParams{
			debitLine("5100", 80),
			creditLine("1000", 80),
		}), logger)
		require.NoError(t, err)

		_, lines, err := router.VoucherService.GetVoucher(draft.Number)
		require.NoError(t, err)
		require.Len(t, lines, 2)

		ctx := createRPCContext(1, "remove_voucher_line", map[string]interface{}{
			"number":  draft.Number,
			"line_id": float64(lines[1].ID),
		})
		router.HandleRemoveVoucherLine(ctx)

		res := assertResponse(t, ctx, "remove_voucher_line")
		removed, ok := res.Params.(RemoveVoucherLineResponse)
		require.True(t, ok, "Response parameter should be a RemoveVoucherLineResponse")
		assert.Equal(t, draft.Number, removed.Number)
		assert.Equal(t, lines[1].ID, removed.LineID)

		_, remaining, err := router.VoucherService.GetVoucher(draft.Number)
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		assert.Equal(t, "5100", remaining[0].AccountCode)
	})

	t.Run("Unknown line id", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		draft, err := router.VoucherService.CreateDraft(getCreateVoucherParams("2026-03-01", "Supplies", []VoucherLineParams{
			debitLine("5100", 80),
			creditLine("1000", 80),
		}), logger)
		require.NoError(t, err)

		ctx := createRPCContext(2, "remove_voucher_line", map[string]interface{}{
			"number":  draft.Number,
			"line_id": float64(9999),
		})
		router.HandleRemoveVoucherLine(ctx)

		assertErrorResponse(t, ctx, fmt.Sprintf("line 9999 not found on voucher %s", draft.Number))
	})

	t.Run("Posted voucher is immutable", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)
		posted := postedVoucher(t, router.VoucherService, "2026-03-01", 120)

		_, lines, err := router.VoucherService.GetVoucher(posted.Number)
		require.NoError(t, err)

		ctx := createRPCContext(3, "remove_voucher_line", map[string]interface{}{
			"number":  posted.Number,
			"line_id": float64(lines[0].ID),
		})
		router.HandleRemoveVoucherLine(ctx)

		assertErrorResponse(t, ctx, "voucher is posted and can no longer be modified: "+posted.Number)
	})
}

func TestRPCRouterHandleDeleteVoucher(t *testing.T) {
	logger := LoggerFromContext(context.Background())

	t.Run("Successfully delete draft", func(t *testing.T) {
		t.Parallel()

		router, db, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		draft, err := router.VoucherService.CreateDraft(getCreateVoucherParams("2026-03-01", "Scratch entry", []VoucherLineParams{
			debitLine("5000", 40),
			creditLine("1000", 40),
		}), logger)
		require.NoError(t, err)

		ctx := createRPCContext(1, "delete_voucher", map[string]interface{}{"number": draft.Number})
		router.HandleDeleteVoucher(ctx)

		res := assertResponse(t, ctx, "delete_voucher")
		deleted, ok := res.Params.(DeleteVoucherResponse)
		require.True(t, ok, "Response parameter should be a DeleteVoucherResponse")
		assert.Equal(t, draft.Number, deleted.Number)

		err = db.Where("number = ?", draft.Number).First(&Voucher{}).Error
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

		var lineCount int64
		require.NoError(t, db.Model(&VoucherLine{}).Where("voucher_id = ?", draft.ID).Count(&lineCount).Error)
		assert.Zero(t, lineCount)
	})

	t.Run("Posted vouchers are permanent", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)
		posted := postedVoucher(t, router.VoucherService, "2026-03-01", 120)

		ctx := createRPCContext(2, "delete_voucher", map[string]interface{}{"number": posted.Number})
		router.HandleDeleteVoucher(ctx)

		assertErrorResponse(t, ctx, "voucher is posted and can no longer be modified: "+posted.Number)
	})

	t.Run("Unknown voucher", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		ctx := createRPCContext(3, "delete_voucher", map[string]interface{}{"number": "V-999999"})
		router.HandleDeleteVoucher(ctx)

		assertErrorResponse(t, ctx, "voucher not found: V-999999")
	})
}

func TestRPCRouterHandlePostVoucher(t *testing.T) {
	logger := LoggerFromContext(context.Background())

	t.Run("Successfully post balanced draft", func(t *testing.T) {
		t.Parallel()

		router, db, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		draft, err := router.VoucherService.CreateDraft(getCreateVoucherParams("2026-03-01", "Office rent for March", []VoucherLineParams{
			debitLine("5000", 300),
			creditLine("1000", 300),
		}), logger)
		require.NoError(t, err)

		ctx := createRPCContext(1, "post_voucher", map[string]interface{}{"number": draft.Number})
		router.HandlePostVoucher(ctx)

		res := assertResponse(t, ctx, "post_voucher")
		voucher, ok := res.Params.(VoucherResponse)
		require.True(t, ok, "Response parameter should be a VoucherResponse")
		assert.Equal(t, "posted", voucher.Status)
		assert.NotEmpty(t, voucher.PostedAt)
		require.Len(t, voucher.Lines, 2)

		var stored Voucher
		require.NoError(t, db.Where("number = ?", draft.Number).First(&stored).Error)
		assert.Equal(t, VoucherStatusPosted, stored.Status)
		require.NotNil(t, stored.PostedAt)
	})

	t.Run("Unbalanced draft", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		draft, err := router.VoucherService.CreateDraft(getCreateVoucherParams("2026-03-01", "Lopsided entry", []VoucherLineParams{
			debitLine("5000", 300),
			creditLine("1000", 200),
		}), logger)
		require.NoError(t, err)

		ctx := createRPCContext(2, "post_voucher", map[string]interface{}{"number": draft.Number})
		router.HandlePostVoucher(ctx)

		assertErrorResponse(t, ctx, "voucher debits and credits are not equal: debits 300, credits 200, difference 100")
	})

	t.Run("Draft with too few lines", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		draft, err := router.VoucherService.CreateDraft(getCreateVoucherParams("2026-03-01", "Bare draft", nil), logger)
		require.NoError(t, err)

		ctx := createRPCContext(3, "post_voucher", map[string]interface{}{"number": draft.Number})
		router.HandlePostVoucher(ctx)

		assertErrorResponse(t, ctx, fmt.Sprintf("voucher requires at least two lines: voucher %s has 0", draft.Number))
	})

	t.Run("Line against deactivated account", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		draft, err := router.VoucherService.CreateDraft(getCreateVoucherParams("2026-03-01", "Donation payout", []VoucherLineParams{
			debitLine("5200", 40),
			creditLine("1000", 40),
		}), logger)
		require.NoError(t, err)

		// The account goes out of service between drafting and posting
		_, err = router.AccountService.DeactivateAccount(&DeactivateAccountParams{Code: "5200"}, logger)
		require.NoError(t, err)

		ctx := createRPCContext(4, "post_voucher", map[string]interface{}{"number": draft.Number})
		router.HandlePostVoucher(ctx)

		assertErrorResponse(t, ctx, "account is inactive: 5200")
	})

	t.Run("Posting twice", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)
		posted := postedVoucher(t, router.VoucherService, "2026-03-01", 120)

		ctx := createRPCContext(5, "post_voucher", map[string]interface{}{"number": posted.Number})
		router.HandlePostVoucher(ctx)

		assertErrorResponse(t, ctx, "voucher is posted and can no longer be modified: "+posted.Number)
	})
}

func TestRPCRouterHandleReverseVoucher(t *testing.T) {
	logger := LoggerFromContext(context.Background())

	t.Run("Successfully reverse posted voucher", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)
		posted := postedVoucher(t, router.VoucherService, "2026-03-01", 250)

		ctx := createRPCContext(1, "reverse_voucher", map[string]interface{}{
			"number": posted.Number,
			"date":   "2026-03-05",
		})
		router.HandleReverseVoucher(ctx)

		res := assertResponse(t, ctx, "reverse_voucher")
		reversal, ok := res.Params.(VoucherResponse)
		require.True(t, ok, "Response parameter should be a VoucherResponse")
		assert.Equal(t, "V-000002", reversal.Number)
		assert.Equal(t, "2026-03-05", reversal.Date)
		assert.Equal(t, "posted", reversal.Status)
		assert.Equal(t, posted.Number, reversal.ReversalOf)
		assert.Equal(t, "Reversal of "+posted.Number, reversal.Narration)

		// Lines mirror the original with debit and credit swapped
		require.Len(t, reversal.Lines, 2)
		assert.Equal(t, "1000", reversal.Lines[0].AccountCode)
		assert.True(t, reversal.Lines[0].Credit.Equal(decimal.NewFromInt(250)))
		assert.Equal(t, "4000", reversal.Lines[1].AccountCode)
		assert.True(t, reversal.Lines[1].Debit.Equal(decimal.NewFromInt(250)))

		original, _, err := router.VoucherService.GetVoucher(posted.Number)
		require.NoError(t, err)
		require.NotNil(t, original.ReversedBy)
		assert.Equal(t, reversal.Number, *original.ReversedBy)
	})

	t.Run("Custom narration", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)
		posted := postedVoucher(t, router.VoucherService, "2026-03-01", 90)

		ctx := createRPCContext(2, "reverse_voucher", map[string]interface{}{
			"number":    posted.Number,
			"narration": "Correction of keying error",
		})
		router.HandleReverseVoucher(ctx)

		res := assertResponse(t, ctx, "reverse_voucher")
		reversal := res.Params.(VoucherResponse)
		assert.Equal(t, "Correction of keying error", reversal.Narration)
	})

	t.Run("Drafts cannot be reversed", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)

		draft, err := router.VoucherService.CreateDraft(getCreateVoucherParams("2026-03-01", "Still a draft", []VoucherLineParams{
			debitLine("1000", 60),
			creditLine("4000", 60),
		}), logger)
		require.NoError(t, err)

		ctx := createRPCContext(3, "reverse_voucher", map[string]interface{}{"number": draft.Number})
		router.HandleReverseVoucher(ctx)

		assertErrorResponse(t, ctx, "voucher is not posted: "+draft.Number)
	})

	t.Run("Reversing twice", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedTestAccounts(t, router)
		posted := postedVoucher(t, router.VoucherService, "2026-03-01", 110)

		firstCtx := createRPCContext(4, "reverse_voucher", map[string]interface{}{"number": posted.Number})
		router.HandleReverseVoucher(firstCtx)
		res := assertResponse(t, firstCtx, "reverse_voucher")
		firstReversal := res.Params.(VoucherResponse)

		secondCtx := createRPCContext(5, "reverse_voucher", map[string]interface{}{"number": posted.Number})
		router.HandleReverseVoucher(secondCtx)

		assertErrorResponse(t, secondCtx,
			fmt.Sprintf("voucher has already been reversed: %s reversed by %s", posted.Number, firstReversal.Number))
	})

	t.Run("Unknown voucher", func(t *testing.T) {
		t.Parallel()

		router, _, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		ctx := createRPCContext(6, "reverse_voucher", map[string]interface{}{"number": "V-999999"})
		router.HandleReverseVoucher(ctx)

		assertErrorResponse(t, ctx, "voucher not found: V-999999")
	})
}

func TestRPCRouterHandleRunIntegrityScan(t *testing.T) {
	t.Run("Clean ledger scans clean", func(t *testing.T) {
		t.Parallel()

		router, db, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedRouterLedger(t, router, db)

		ctx := createRPCContext(1, "run_integrity_scan", nil)
		router.HandleRunIntegrityScan(ctx)

		res := assertResponse(t, ctx, "run_integrity_scan")
		scan, ok := res.Params.(IntegrityScanResponse)
		require.True(t, ok, "Response parameter should be an IntegrityScanResponse")
		assert.Zero(t, scan.CriticalCount)
		assert.Zero(t, scan.WarningCount)
		assert.Equal(t, int64(4), scan.VouchersChecked)
		assert.Equal(t, int64(8), scan.LinesChecked)
		assert.Equal(t, int64(5), scan.AccountsChecked)
		assert.Empty(t, scan.Findings)

		var count int64
		require.NoError(t, db.Model(&IntegrityScan{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("Findings surface in the response", func(t *testing.T) {
		t.Parallel()

		router, db, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedRouterLedger(t, router, db)

		// Corrupt a posted line behind the API's back
		var tampered Voucher
		require.NoError(t, db.Where("number = ?", "V-000002").First(&tampered).Error)
		require.NoError(t, db.Exec(
			"UPDATE voucher_lines SET credit = '90.00' WHERE voucher_id = ? AND credit = '300'",
			tampered.ID).Error)

		ctx := createRPCContext(2, "run_integrity_scan", nil)
		router.HandleRunIntegrityScan(ctx)

		res := assertResponse(t, ctx, "run_integrity_scan")
		scan := res.Params.(IntegrityScanResponse)
		assert.Equal(t, 1, scan.CriticalCount)
		assert.Contains(t, scan.Codes, string(FindingUnbalancedPostedVoucher))
		require.NotEmpty(t, scan.Findings)
		assert.Equal(t, FindingUnbalancedPostedVoucher, scan.Findings[0].Code)
		assert.Equal(t, "V-000002", scan.Findings[0].Subject)
	})
}

func TestRPCRouterHandleGetIntegrityHistory(t *testing.T) {
	t.Run("History returns scans newest first", func(t *testing.T) {
		t.Parallel()

		router, db, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedRouterLedger(t, router, db)

		_, _, err := router.IntegrityChecker.Scan(context.Background())
		require.NoError(t, err)
		_, _, err = router.IntegrityChecker.Scan(context.Background())
		require.NoError(t, err)

		ctx := createRPCContext(1, "get_integrity_history", map[string]interface{}{})
		router.HandleGetIntegrityHistory(ctx)

		res := assertResponse(t, ctx, "get_integrity_history")
		history, ok := res.Params.(GetIntegrityHistoryResponse)
		require.True(t, ok, "Response parameter should be a GetIntegrityHistoryResponse")
		require.Len(t, history.Scans, 2)
		assert.Greater(t, history.Scans[0].ID, history.Scans[1].ID)
		assert.NotEmpty(t, history.Scans[0].CreatedAt)
	})

	t.Run("Limit applies", func(t *testing.T) {
		t.Parallel()

		router, db, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedRouterLedger(t, router, db)

		_, _, err := router.IntegrityChecker.Scan(context.Background())
		require.NoError(t, err)
		_, _, err = router.IntegrityChecker.Scan(context.Background())
		require.NoError(t, err)

		ctx := createRPCContext(2, "get_integrity_history", map[string]interface{}{"limit": float64(1)})
		router.HandleGetIntegrityHistory(ctx)

		res := assertResponse(t, ctx, "get_integrity_history")
		history := res.Params.(GetIntegrityHistoryResponse)
		require.Len(t, history.Scans, 1)
	})
}

func TestRPCRouterHandleCreateBackup(t *testing.T) {
	if os.Getenv("TEST_DB_DRIVER") == "postgres" {
		t.Skip("database snapshots are sqlite-only")
	}

	t.Run("Successfully create manual backup", func(t *testing.T) {
		t.Parallel()

		router, db, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedRouterLedger(t, router, db)

		ctx := createRPCContext(1, "create_backup", nil)
		router.HandleCreateBackup(ctx)

		res := assertResponse(t, ctx, "create_backup")
		backup, ok := res.Params.(BackupResponse)
		require.True(t, ok, "Response parameter should be a BackupResponse")
		assert.Equal(t, string(BackupTagManual), backup.Tag)
		assert.Greater(t, backup.SizeBytes, int64(0))
		assert.NotEmpty(t, backup.Stats)

		_, err := os.Stat(backup.Path)
		require.NoError(t, err)

		var count int64
		require.NoError(t, db.Model(&Backup{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})
}

func TestRPCRouterHandleGetBackups(t *testing.T) {
	if os.Getenv("TEST_DB_DRIVER") == "postgres" {
		t.Skip("database snapshots are sqlite-only")
	}

	t.Run("Backups are listed newest first", func(t *testing.T) {
		t.Parallel()

		router, db, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		seedRouterLedger(t, router, db)

		_, err := router.BackupService.Snapshot(BackupTagManual)
		require.NoError(t, err)
		_, err = router.BackupService.Snapshot(BackupTagStartup)
		require.NoError(t, err)

		ctx := createRPCContext(1, "get_backups", map[string]interface{}{})
		router.HandleGetBackups(ctx)

		res := assertResponse(t, ctx, "get_backups")
		backups, ok := res.Params.(GetBackupsResponse)
		require.True(t, ok, "Response parameter should be a GetBackupsResponse")
		require.Len(t, backups.Backups, 2)
		assert.Equal(t, string(BackupTagStartup), backups.Backups[0].Tag)
		assert.Equal(t, string(BackupTagManual), backups.Backups[1].Tag)
	})
}

func TestRPCRouterHandleGetRPCHistory(t *testing.T) {
	t.Run("Successfully retrieve rpc history", func(t *testing.T) {
		t.Parallel()

		router, db, cleanup := setupTestRPCRouter(t)
		t.Cleanup(cleanup)

		baseTime := uint64(time.Now().Unix())
		methods := []string{
			"create_account", "create_voucher", "add_voucher_line", "post_voucher",
			"create_voucher", "post_voucher", "reverse_voucher", "update_account",
			"create_backup", "deactivate_account", "delete_voucher",
		}

		// Create 11 test records for pagination testing
		records := make([]RPCRecord, 0, len(methods))
		for i, method := range methods {
			records = append(records, RPCRecord{
				Sender:    "operator",
				ReqID:     uint64(i + 1),
				Method:    method,
				Params:    []byte(`{}`),
				Timestamp: baseTime - uint64(len(methods)-i),
				Response:  []byte(fmt.Sprintf(`{"res":[%d,"%s",{},1700000000000]}`, i+1, method)),
			})
		}
		require.NoError(t, db.Create(&records).Error)

		// Expected record req IDs in descending order (newest first)
		expectedReqIDs := []uint64{11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1}

		testCases := []struct {
			name                string
			params              map[string]interface{}
			expectedReqIDs      []uint64
			expectedRecordCount int
		}{
			{
				name:                "No params (default pagination)",
				params:              map[string]interface{}{},
				expectedReqIDs:      expectedReqIDs[:10], // Default limit is 10
				expectedRecordCount: 10,
			},
			{
				name:                "Offset only",
				params:              map[string]interface{}{"offset": float64(2)},
				expectedReqIDs:      expectedReqIDs[2:], // Skip first 2
				expectedRecordCount: 9,
			},
			{
				name:                "Limit only",
				params:              map[string]interface{}{"limit": float64(5)},
				expectedReqIDs:      expectedReqIDs[:5], // First 5 records
				expectedRecordCount: 5,
			},
			{
				name:                "Offset and limit",
				params:              map[string]interface{}{"offset": float64(2), "limit": float64(3)},
				expectedReqIDs:      expectedReqIDs[2:5], // Skip 2, take 3
				expectedRecordCount: 3,
			},
			{
				name:                "Pagination with sort asc",
				params:              map[string]interface{}{"offset": float64(1), "limit": float64(3), "sort": "asc"},
				expectedReqIDs:      []uint64{2, 3, 4}, // Ascending order, skip 1, take 3
				expectedRecordCount: 3,
			},
			{
				name:                "Pagination with sort desc (default)",
				params:              map[string]interface{}{"offset": float64(1), "limit": float64(3), "sort": "desc"},
				expectedReqIDs:      expectedReqIDs[1:4], // Descending order, skip 1, take 3
				expectedRecordCount: 3,
			},
			{
				name:                "Offset beyond available records",
				params:              map[string]interface{}{"offset": float64(20)},
				expectedReqIDs:      []uint64{}, // No records
				expectedRecordCount: 0,
			},
			{
				name:                "Limit exceeds max limit",
				params:              map[string]interface{}{"limit": float64(200)},
				expectedReqIDs:      expectedReqIDs, // Capped at MaxLimit (100), but we only have 11 records
				expectedRecordCount: 11,
			},
			{
				name:                "Filter by method",
				params:              map[string]interface{}{"method": "post_voucher"},
				expectedReqIDs:      []uint64{6, 4},
				expectedRecordCount: 2,
			},
		}

		for idx, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				ctx := createRPCContext(idx+100, "get_rpc_history", tc.params)

				router.HandleGetRPCHistory(ctx)

				res := assertResponse(t, ctx, "get_rpc_history")

				require.Equal(t, uint64(idx+100), res.RequestID)
				rpcHistory, ok := res.Params.(GetRPCHistoryResponse)
				require.True(t, ok, "Response parameter should be a GetRPCHistoryResponse")
				assert.Len(t, rpcHistory.RPCEntries, tc.expectedRecordCount, "Should return expected number of records")

				// Check records are in expected order
				for i, record := range rpcHistory.RPCEntries {
					if i < len(tc.expectedReqIDs) {
						assert.Equal(t, tc.expectedReqIDs[i], record.ReqID, "Record %d should have expected ReqID", i)
						assert.Equal(t, "operator", record.Sender)
					}
				}
			})
		}
	})
}

func TestRPCRouterHandleFlushReportCache(t *testing.T) {
	t.Parallel()

	router, _, cleanup := setupTestRPCRouter(t)
	defer cleanup()

	router.Cache.Put("trial_balance:latest", &TrialBalanceReport{})
	require.Equal(t, 1, router.Cache.Len())

	ctx := createRPCContext(1, "flush_report_cache", nil)
	router.HandleFlushReportCache(ctx)

	assertResponse(t, ctx, "flush_report_cache")
	assert.Equal(t, 0, router.Cache.Len())
}
