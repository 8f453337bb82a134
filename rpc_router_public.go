package main

import (
	"time"

	"github.com/shopspring/decimal"
)

type GetConfigResponse struct {
	Mode          string `json:"mode"`
	BackupOnPost  bool   `json:"backup_on_post"`
	MsgExpiryTime int    `json:"msg_expiry_time"`
}

type ChartAccountResponse struct {
	Code           string `json:"code"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	CashEquivalent bool   `json:"cash_equivalent,omitempty"`
}

type ChartResponse struct {
	Accounts []ChartAccountResponse `json:"accounts"`
}

type GetAccountsParams struct {
	ListOptions
	Type   *string `json:"type,omitempty"`   // Optional account type to filter accounts
	Status *string `json:"status,omitempty"` // Optional status to filter accounts
	Search *string `json:"search,omitempty"` // Optional substring match on code and name
}

type GetAccountParams struct {
	Code string `json:"code" validate:"required"` // The account code to look up
}

type AccountResponse struct {
	Code           string `json:"code"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	Status         string `json:"status"`
	CashEquivalent bool   `json:"cash_equivalent"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type GetAccountsResponse struct {
	Accounts []AccountResponse `json:"accounts"`
}

type GetVouchersParams struct {
	ListOptions
	Status      *string `json:"status,omitempty"`       // Optional status to filter vouchers
	AccountCode *string `json:"account_code,omitempty"` // Optional account whose lines the voucher must touch
	Search      *string `json:"search,omitempty"`       // Optional substring match on number, narration and reference
	DateFrom    *string `json:"date_from,omitempty"`    // Optional YYYY-MM-DD lower bound
	DateTo      *string `json:"date_to,omitempty"`      // Optional YYYY-MM-DD upper bound
}

type GetVoucherParams struct {
	Number string `json:"number" validate:"required"` // The voucher number to look up
}

type VoucherLineResponse struct {
	ID          uint            `json:"id"`
	Position    uint            `json:"position"`
	AccountCode string          `json:"account_code"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
}

type VoucherResponse struct {
	Number      string                `json:"number"`
	Date        string                `json:"date"`
	Narration   string                `json:"narration"`
	Reference   string                `json:"reference,omitempty"`
	Status      string                `json:"status"`
	PostedAt    string                `json:"posted_at,omitempty"`
	ReversalOf  string                `json:"reversal_of,omitempty"`
	ReversedBy  string                `json:"reversed_by,omitempty"`
	TotalDebit  decimal.Decimal       `json:"total_debit"`
	TotalCredit decimal.Decimal       `json:"total_credit"`
	Lines       []VoucherLineResponse `json:"lines,omitempty"`
	CreatedAt   string                `json:"created_at"`
}

type GetVouchersResponse struct {
	Vouchers []VoucherResponse `json:"vouchers"`
}

type GetLedgerParams struct {
	AccountCode string  `json:"account_code" validate:"required"` // The account whose statement to build
	DateFrom    *string `json:"date_from,omitempty"`              // Optional YYYY-MM-DD lower bound
	DateTo      *string `json:"date_to,omitempty"`                // Optional YYYY-MM-DD upper bound
}

type GetLedgerResponse struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	AccountLedgerReport
}

type GetGeneralLedgerParams struct {
	AccountCodes []string `json:"account_codes,omitempty"` // Empty selects the whole chart
	DateFrom     *string  `json:"date_from,omitempty"`
	DateTo       *string  `json:"date_to,omitempty"`
}

type GetTrialBalanceParams struct {
	AsOf *string `json:"as_of,omitempty"` // Optional YYYY-MM-DD cutoff date
}

type GetBalanceSheetParams struct {
	AsOf *string `json:"as_of,omitempty"` // Optional YYYY-MM-DD cutoff date
}

type ReportRangeParams struct {
	DateFrom *string `json:"date_from,omitempty"` // Optional YYYY-MM-DD lower bound
	DateTo   *string `json:"date_to,omitempty"`   // Optional YYYY-MM-DD upper bound
}

type GetCashFlowParams struct {
	DateFrom *string `json:"date_from,omitempty"` // Optional YYYY-MM-DD lower bound
	DateTo   *string `json:"date_to,omitempty"`   // Optional YYYY-MM-DD upper bound
	// GroupBy adds a per-narration breakdown when set to "narration"
	GroupBy string `json:"group_by,omitempty" validate:"omitempty,oneof=account narration"`
}

type ErrorResponse struct {
	Error string `json:"error"` // The error message to send back to the client
}

func (r *RPCRouter) HandlePing(c *RPCContext) {
	c.Succeed("pong", nil)
}

// HandleGetConfig returns the node configuration
func (r *RPCRouter) HandleGetConfig(c *RPCContext) {
	nodeConfig := GetConfigResponse{
		Mode:          string(r.Config.mode),
		BackupOnPost:  r.Config.backupOnPost,
		MsgExpiryTime: r.Config.msgExpiryTime,
	}

	c.Succeed(c.Message.Req.Method, nodeConfig)
}

// HandleGetAccounts returns chart of accounts entries matching the filters
func (r *RPCRouter) HandleGetAccounts(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params GetAccountsParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	accounts, err := r.AccountService.ListAccounts(&params)
	if err != nil {
		logger.Error("failed to get accounts", "error", err)
		c.Fail(err, "failed to get accounts")
		return
	}

	respAccounts := make([]AccountResponse, 0, len(accounts))
	for _, account := range accounts {
		respAccounts = append(respAccounts, toAccountResponse(account))
	}

	resp := GetAccountsResponse{
		Accounts: respAccounts,
	}

	c.Succeed(req.Method, resp)
	logger.Info("accounts retrieved", "count", len(accounts))
}

// HandleGetAccount returns a single chart of accounts entry
func (r *RPCRouter) HandleGetAccount(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params GetAccountParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	account, err := r.AccountService.GetAccount(params.Code)
	if err != nil {
		logger.Error("failed to get account", "code", params.Code, "error", err)
		c.Fail(err, "failed to get account")
		return
	}

	c.Succeed(req.Method, toAccountResponse(*account))
	logger.Info("account retrieved", "code", params.Code)
}

// HandleGetVouchers returns a filtered voucher list with line totals
func (r *RPCRouter) HandleGetVouchers(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params GetVouchersParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	vouchers, err := r.VoucherService.ListVouchers(&params)
	if err != nil {
		logger.Error("failed to get vouchers", "error", err)
		c.Fail(err, "failed to get vouchers")
		return
	}

	respVouchers := make([]VoucherResponse, 0, len(vouchers))
	for _, voucher := range vouchers {
		respVouchers = append(respVouchers, toVoucherSummaryResponse(voucher))
	}

	resp := GetVouchersResponse{
		Vouchers: respVouchers,
	}

	c.Succeed(req.Method, resp)
	logger.Info("vouchers retrieved", "count", len(vouchers))
}

// HandleGetVoucher returns one voucher with all of its lines
func (r *RPCRouter) HandleGetVoucher(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params GetVoucherParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	voucher, lines, err := r.VoucherService.GetVoucher(params.Number)
	if err != nil {
		logger.Error("failed to get voucher", "number", params.Number, "error", err)
		c.Fail(err, "failed to get voucher")
		return
	}

	c.Succeed(req.Method, toVoucherResponse(*voucher, lines))
	logger.Info("voucher retrieved", "number", params.Number)
}

// HandleGetLedger returns one account's statement with running balances
func (r *RPCRouter) HandleGetLedger(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params GetLedgerParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	from, err := parseDatePtr(params.DateFrom)
	if err != nil {
		c.Fail(RPCErrorf("%s", err.Error()), "")
		return
	}
	to, err := parseDatePtr(params.DateTo)
	if err != nil {
		c.Fail(RPCErrorf("%s", err.Error()), "")
		return
	}

	account, err := r.AccountService.GetAccount(params.AccountCode)
	if err != nil {
		logger.Error("failed to get account", "code", params.AccountCode, "error", err)
		c.Fail(err, "failed to get account")
		return
	}

	view, err := GetAccountLedger(r.DB, *account).View(from, to)
	if err != nil {
		logger.Error("failed to build account ledger", "code", params.AccountCode, "error", err)
		c.Fail(err, "failed to build account ledger")
		return
	}

	resp := GetLedgerResponse{
		From: formatDatePtr(from),
		To:   formatDatePtr(to),
		AccountLedgerReport: AccountLedgerReport{
			AccountCode: account.Code,
			AccountName: account.Name,
			AccountType: account.Type.String(),
			Opening:     view.Opening,
			Movements:   view.Movements,
			TotalDebit:  view.TotalDebit,
			TotalCredit: view.TotalCredit,
			Closing:     view.Closing,
		},
	}

	r.Metrics.ReportsGenerated.WithLabelValues("ledger").Inc()
	c.Succeed(req.Method, resp)
	logger.Info("account ledger retrieved", "code", params.AccountCode, "movements", len(view.Movements))
}

// HandleGetGeneralLedger returns statements for a set of accounts, or for the
// whole chart when no codes are given
func (r *RPCRouter) HandleGetGeneralLedger(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params GetGeneralLedgerParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	from, err := parseDatePtr(params.DateFrom)
	if err != nil {
		c.Fail(RPCErrorf("%s", err.Error()), "")
		return
	}
	to, err := parseDatePtr(params.DateTo)
	if err != nil {
		c.Fail(RPCErrorf("%s", err.Error()), "")
		return
	}

	report, err := r.ReportService.GeneralLedger(params.AccountCodes, from, to)
	if err != nil {
		logger.Error("failed to build general ledger", "error", err)
		c.Fail(err, "failed to build general ledger")
		return
	}

	r.Metrics.ReportsGenerated.WithLabelValues("general_ledger").Inc()
	c.Succeed(req.Method, report)
	logger.Info("general ledger retrieved", "accounts", len(report.Accounts), "unknown", len(report.UnknownAccounts))
}

// HandleGetTrialBalance returns the trial balance as of an optional date
func (r *RPCRouter) HandleGetTrialBalance(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params GetTrialBalanceParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	asOf, err := parseDatePtr(params.AsOf)
	if err != nil {
		c.Fail(RPCErrorf("%s", err.Error()), "")
		return
	}

	report, err := r.ReportService.TrialBalance(asOf)
	if err != nil {
		logger.Error("failed to build trial balance", "error", err)
		c.Fail(err, "failed to build trial balance")
		return
	}

	r.Metrics.ReportsGenerated.WithLabelValues("trial_balance").Inc()
	c.Succeed(req.Method, report)
	logger.Info("trial balance retrieved", "rows", len(report.Rows))
}

// HandleGetProfitLoss returns the income statement over an optional period
func (r *RPCRouter) HandleGetProfitLoss(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params ReportRangeParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	from, err := parseDatePtr(params.DateFrom)
	if err != nil {
		c.Fail(RPCErrorf("%s", err.Error()), "")
		return
	}
	to, err := parseDatePtr(params.DateTo)
	if err != nil {
		c.Fail(RPCErrorf("%s", err.Error()), "")
		return
	}

	report, err := r.ReportService.ProfitAndLoss(from, to)
	if err != nil {
		logger.Error("failed to build profit and loss report", "error", err)
		c.Fail(err, "failed to build profit and loss report")
		return
	}

	r.Metrics.ReportsGenerated.WithLabelValues("profit_loss").Inc()
	c.Succeed(req.Method, report)
	logger.Info("profit and loss retrieved", "netProfit", report.NetProfit)
}

// HandleGetBalanceSheet returns the balance sheet as of an optional date
func (r *RPCRouter) HandleGetBalanceSheet(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params GetBalanceSheetParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	asOf, err := parseDatePtr(params.AsOf)
	if err != nil {
		c.Fail(RPCErrorf("%s", err.Error()), "")
		return
	}

	report, err := r.ReportService.BalanceSheet(asOf)
	if err != nil {
		logger.Error("failed to build balance sheet", "error", err)
		c.Fail(err, "failed to build balance sheet")
		return
	}

	r.Metrics.ReportsGenerated.WithLabelValues("balance_sheet").Inc()
	c.Succeed(req.Method, report)
	logger.Info("balance sheet retrieved", "equity", report.Equity)
}

// HandleGetCashFlow returns inflows and outflows of cash accounts
func (r *RPCRouter) HandleGetCashFlow(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params GetCashFlowParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	from, err := parseDatePtr(params.DateFrom)
	if err != nil {
		c.Fail(RPCErrorf("%s", err.Error()), "")
		return
	}
	to, err := parseDatePtr(params.DateTo)
	if err != nil {
		c.Fail(RPCErrorf("%s", err.Error()), "")
		return
	}

	report, err := r.ReportService.CashFlow(from, to, params.GroupBy == "narration")
	if err != nil {
		logger.Error("failed to build cash flow report", "error", err)
		c.Fail(err, "failed to build cash flow report")
		return
	}

	r.Metrics.ReportsGenerated.WithLabelValues("cash_flow").Inc()
	c.Succeed(req.Method, report)
	logger.Info("cash flow retrieved", "netCash", report.NetCash)
}

// HandleGetDashboard returns the headline figures for operator UIs
func (r *RPCRouter) HandleGetDashboard(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	report, err := r.ReportService.Dashboard()
	if err != nil {
		logger.Error("failed to build dashboard", "error", err)
		c.Fail(err, "failed to build dashboard")
		return
	}

	r.Metrics.ReportsGenerated.WithLabelValues("dashboard").Inc()
	c.Succeed(req.Method, report)
	logger.Info("dashboard retrieved")
}

func toAccountResponse(account Account) AccountResponse {
	return AccountResponse{
		Code:           account.Code,
		Name:           account.Name,
		Type:           account.Type.String(),
		Status:         string(account.Status),
		CashEquivalent: account.CashEquivalent,
		CreatedAt:      account.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      account.UpdatedAt.Format(time.RFC3339),
	}
}

func toVoucherResponse(voucher Voucher, lines []VoucherLine) VoucherResponse {
	totalDebit, totalCredit := voucherTotals(lines)
	resp := VoucherResponse{
		Number:      voucher.Number,
		Date:        voucher.Date.Format(dateLayout),
		Narration:   voucher.Narration,
		Reference:   voucher.Reference,
		Status:      string(voucher.Status),
		TotalDebit:  totalDebit,
		TotalCredit: totalCredit,
		CreatedAt:   voucher.CreatedAt.Format(time.RFC3339),
	}
	if voucher.PostedAt != nil {
		resp.PostedAt = voucher.PostedAt.Format(time.RFC3339)
	}
	if voucher.ReversalOf != nil {
		resp.ReversalOf = *voucher.ReversalOf
	}
	if voucher.ReversedBy != nil {
		resp.ReversedBy = *voucher.ReversedBy
	}
	for _, line := range lines {
		resp.Lines = append(resp.Lines, VoucherLineResponse{
			ID:          line.ID,
			Position:    line.Position,
			AccountCode: line.AccountCode,
			Debit:       line.Debit,
			Credit:      line.Credit,
		})
	}
	return resp
}

// toVoucherSummaryResponse renders a list entry with totals but without lines.
func toVoucherSummaryResponse(voucher VoucherWithTotals) VoucherResponse {
	resp := toVoucherResponse(voucher.Voucher, nil)
	resp.TotalDebit = voucher.TotalDebit
	resp.TotalCredit = voucher.TotalCredit
	return resp
}

// parseDatePtr parses an optional YYYY-MM-DD parameter, mapping absent and
// empty values to nil.
func parseDatePtr(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseDate(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
