package main

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type CreateAccountParams struct {
	Code           string `json:"code" validate:"required"`
	Name           string `json:"name" validate:"required"`
	Type           string `json:"type" validate:"required"` // One of asset, liability, income, expense
	CashEquivalent bool   `json:"cash_equivalent"`
}

type UpdateAccountParams struct {
	Code           string  `json:"code" validate:"required"`
	Name           *string `json:"name,omitempty"`
	CashEquivalent *bool   `json:"cash_equivalent,omitempty"`
}

type DeactivateAccountParams struct {
	Code  string `json:"code" validate:"required"`
	Force bool   `json:"force"` // Deactivate even when the posted balance is non-zero
}

type ReactivateAccountParams struct {
	Code string `json:"code" validate:"required"`
}

type VoucherLineParams struct {
	AccountCode string          `json:"account_code" validate:"required"`
	Debit       decimal.Decimal `json:"debit" validate:"amount"`
	Credit      decimal.Decimal `json:"credit" validate:"amount"`
}

type CreateVoucherParams struct {
	Date      string              `json:"date" validate:"required"` // YYYY-MM-DD
	Number    *string             `json:"number,omitempty"`         // Optional explicit number, generated when absent
	Narration string              `json:"narration" validate:"required"`
	Reference string              `json:"reference,omitempty"`
	Lines     []VoucherLineParams `json:"lines,omitempty" validate:"dive"`
}

type AddVoucherLineParams struct {
	Number      string          `json:"number" validate:"required"`
	AccountCode string          `json:"account_code" validate:"required"`
	Debit       decimal.Decimal `json:"debit" validate:"amount"`
	Credit      decimal.Decimal `json:"credit" validate:"amount"`
}

type RemoveVoucherLineParams struct {
	Number string `json:"number" validate:"required"`
	LineID uint   `json:"line_id" validate:"required"`
}

type RemoveVoucherLineResponse struct {
	Number string `json:"number"`
	LineID uint   `json:"line_id"`
}

type DeleteVoucherParams struct {
	Number string `json:"number" validate:"required"`
}

type DeleteVoucherResponse struct {
	Number string `json:"number"`
}

type PostVoucherParams struct {
	Number string `json:"number" validate:"required"`
}

type ReverseVoucherParams struct {
	Number    string  `json:"number" validate:"required"`
	Date      *string `json:"date,omitempty"`      // Optional reversal date, defaults to today
	Narration *string `json:"narration,omitempty"` // Optional narration, defaults to a reference to the original
}

type GetRPCHistoryParams struct {
	ListOptions
	Method *string `json:"method,omitempty"` // Optional method name to filter entries
}

type GetRPCHistoryResponse struct {
	RPCEntries []RPCEntry `json:"rpc_entries"`
}

type GetIntegrityHistoryParams struct {
	ListOptions
}

type IntegrityScanResponse struct {
	ID              uint      `json:"id"`
	VouchersChecked int64     `json:"vouchers_checked"`
	LinesChecked    int64     `json:"lines_checked"`
	AccountsChecked int64     `json:"accounts_checked"`
	CriticalCount   int       `json:"critical_count"`
	WarningCount    int       `json:"warning_count"`
	Codes           []string  `json:"codes,omitempty"`
	Findings        []Finding `json:"findings,omitempty"`
	CreatedAt       string    `json:"created_at"`
}

type GetIntegrityHistoryResponse struct {
	Scans []IntegrityScanResponse `json:"scans"`
}

type GetBackupsParams struct {
	ListOptions
}

type BackupResponse struct {
	ID        uint            `json:"id"`
	Tag       string          `json:"tag"`
	Path      string          `json:"path"`
	SizeBytes int64           `json:"size_bytes"`
	Stats     json.RawMessage `json:"stats,omitempty"`
	CreatedAt string          `json:"created_at"`
}

type GetBackupsResponse struct {
	Backups []BackupResponse `json:"backups"`
}

// HandleCreateAccount adds an account to the chart of accounts
func (r *RPCRouter) HandleCreateAccount(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params CreateAccountParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	account, err := r.AccountService.CreateAccount(&params, logger)
	if err != nil {
		logger.Error("failed to create account", "code", params.Code, "error", err)
		c.Fail(err, "failed to create account")
		return
	}

	r.wsNotifier.Notify(NewAccountNotification(*account))

	c.Succeed(req.Method, toAccountResponse(*account))
	logger.Info("account created", "code", account.Code, "type", account.Type.String())
}

// HandleUpdateAccount renames an account or toggles its cash flag
func (r *RPCRouter) HandleUpdateAccount(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params UpdateAccountParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	account, err := r.AccountService.UpdateAccount(&params, logger)
	if err != nil {
		logger.Error("failed to update account", "code", params.Code, "error", err)
		c.Fail(err, "failed to update account")
		return
	}

	r.wsNotifier.Notify(NewAccountNotification(*account))

	c.Succeed(req.Method, toAccountResponse(*account))
	logger.Info("account updated", "code", account.Code)
}

// HandleDeactivateAccount retires an account from new postings while keeping
// its history readable
func (r *RPCRouter) HandleDeactivateAccount(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params DeactivateAccountParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	account, err := r.AccountService.DeactivateAccount(&params, logger)
	if err != nil {
		logger.Error("failed to deactivate account", "code", params.Code, "error", err)
		c.Fail(err, "failed to deactivate account")
		return
	}

	r.wsNotifier.Notify(NewAccountNotification(*account))

	c.Succeed(req.Method, toAccountResponse(*account))
	logger.Info("account deactivated", "code", account.Code, "force", params.Force)
}

// HandleReactivateAccount puts a deactivated account back into service
func (r *RPCRouter) HandleReactivateAccount(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params ReactivateAccountParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	account, err := r.AccountService.ReactivateAccount(params.Code, logger)
	if err != nil {
		logger.Error("failed to reactivate account", "code", params.Code, "error", err)
		c.Fail(err, "failed to reactivate account")
		return
	}

	r.wsNotifier.Notify(NewAccountNotification(*account))

	c.Succeed(req.Method, toAccountResponse(*account))
	logger.Info("account reactivated", "code", account.Code)
}

// HandleCreateVoucher creates a draft voucher, optionally with initial lines
func (r *RPCRouter) HandleCreateVoucher(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params CreateVoucherParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	// Check for a duplicate submission by hashing the RPC message
	messageHash := HashMessage(&c.Message)

	if r.MessageCache.Exists(messageHash) {
		c.Fail(nil, "operation denied: the request has already been processed")
		return
	}

	voucher, err := r.VoucherService.CreateDraft(&params, logger)
	if err != nil {
		logger.Error("failed to create voucher", "error", err)
		c.Fail(err, "failed to create voucher")
		return
	}

	// Add message to cache after successful processing to prevent duplicates
	r.MessageCache.Add(messageHash)

	_, lines, err := r.VoucherService.GetVoucher(voucher.Number)
	if err != nil {
		logger.Error("failed to load voucher lines", "number", voucher.Number, "error", err)
		c.Fail(err, "failed to load voucher lines")
		return
	}

	c.Succeed(req.Method, toVoucherResponse(*voucher, lines))
	logger.Info("voucher created", "number", voucher.Number, "lines", len(lines))
}

// HandleAddVoucherLine appends a line to a draft voucher
func (r *RPCRouter) HandleAddVoucherLine(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params AddVoucherLineParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	line, err := r.VoucherService.AddLine(&params, logger)
	if err != nil {
		logger.Error("failed to add voucher line", "number", params.Number, "error", err)
		c.Fail(err, "failed to add voucher line")
		return
	}

	resp := VoucherLineResponse{
		ID:          line.ID,
		Position:    line.Position,
		AccountCode: line.AccountCode,
		Debit:       line.Debit,
		Credit:      line.Credit,
	}

	c.Succeed(req.Method, resp)
	logger.Info("voucher line added", "number", params.Number, "account", line.AccountCode)
}

// HandleRemoveVoucherLine deletes a line from a draft voucher
func (r *RPCRouter) HandleRemoveVoucherLine(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params RemoveVoucherLineParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	if err := r.VoucherService.RemoveLine(&params); err != nil {
		logger.Error("failed to remove voucher line", "number", params.Number, "lineID", params.LineID, "error", err)
		c.Fail(err, "failed to remove voucher line")
		return
	}

	resp := RemoveVoucherLineResponse{
		Number: params.Number,
		LineID: params.LineID,
	}

	c.Succeed(req.Method, resp)
	logger.Info("voucher line removed", "number", params.Number, "lineID", params.LineID)
}

// HandleDeleteVoucher discards a draft voucher together with its lines
func (r *RPCRouter) HandleDeleteVoucher(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params DeleteVoucherParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	if err := r.VoucherService.DeleteDraft(params.Number); err != nil {
		logger.Error("failed to delete voucher", "number", params.Number, "error", err)
		c.Fail(err, "failed to delete voucher")
		return
	}

	resp := DeleteVoucherResponse{
		Number: params.Number,
	}

	c.Succeed(req.Method, resp)
	logger.Info("voucher deleted", "number", params.Number)
}

// HandlePostVoucher promotes a balanced draft to the permanent ledger
func (r *RPCRouter) HandlePostVoucher(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	r.Metrics.PostAttemptsTotal.Inc()

	var params PostVoucherParams
	if err := parseParams(req.Params, &params); err != nil {
		r.Metrics.PostAttemptsFail.Inc()
		c.Fail(err, "failed to parse parameters")
		return
	}

	voucher, err := r.VoucherService.PostVoucher(params.Number, logger)
	if err != nil {
		r.Metrics.PostAttemptsFail.Inc()
		logger.Error("failed to post voucher", "number", params.Number, "error", err)
		c.Fail(err, "failed to post voucher")
		return
	}

	_, lines, err := r.VoucherService.GetVoucher(voucher.Number)
	if err != nil {
		logger.Error("failed to load voucher lines", "number", voucher.Number, "error", err)
		c.Fail(err, "failed to load voucher lines")
		return
	}

	if r.Config.backupOnPost {
		if _, err := r.BackupService.Snapshot(BackupTagPost); err != nil {
			logger.Warn("backup after posting failed", "number", voucher.Number, "error", err)
		}
	}

	r.wsNotifier.Notify(NewVoucherPostedNotification(*voucher, lines))

	r.Metrics.PostAttemptsSuccess.Inc()
	c.Succeed(req.Method, toVoucherResponse(*voucher, lines))
	logger.Info("voucher posted", "number", voucher.Number, "lines", len(lines))
}

// HandleReverseVoucher posts an offsetting voucher for a posted one
func (r *RPCRouter) HandleReverseVoucher(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params ReverseVoucherParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	reversal, err := r.VoucherService.ReverseVoucher(&params, logger)
	if err != nil {
		logger.Error("failed to reverse voucher", "number", params.Number, "error", err)
		c.Fail(err, "failed to reverse voucher")
		return
	}

	_, lines, err := r.VoucherService.GetVoucher(reversal.Number)
	if err != nil {
		logger.Error("failed to load voucher lines", "number", reversal.Number, "error", err)
		c.Fail(err, "failed to load voucher lines")
		return
	}

	r.wsNotifier.Notify(NewVoucherReversedNotification(*reversal, lines))

	r.Metrics.ReversalsTotal.Inc()
	c.Succeed(req.Method, toVoucherResponse(*reversal, lines))
	logger.Info("voucher reversed", "original", params.Number, "reversal", reversal.Number)
}

// HandleRunIntegrityScan cross-checks the stored ledger against the posting
// invariants and persists the result
func (r *RPCRouter) HandleRunIntegrityScan(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	scan, findings, err := r.IntegrityChecker.Scan(ctx)
	if err != nil {
		logger.Error("failed to run integrity scan", "error", err)
		c.Fail(err, "failed to run integrity scan")
		return
	}

	c.Succeed(req.Method, toIntegrityScanResponse(*scan, findings))
	logger.Info("integrity scan completed", "critical", scan.CriticalCount, "warnings", scan.WarningCount)
}

// HandleGetIntegrityHistory returns past integrity scan results
func (r *RPCRouter) HandleGetIntegrityHistory(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params GetIntegrityHistoryParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	scans, err := r.IntegrityChecker.History(&params.ListOptions)
	if err != nil {
		logger.Error("failed to retrieve integrity history", "error", err)
		c.Fail(err, "failed to retrieve integrity history")
		return
	}

	respScans := make([]IntegrityScanResponse, 0, len(scans))
	for _, scan := range scans {
		var findings []Finding
		if len(scan.Findings) > 0 {
			if err := json.Unmarshal(scan.Findings, &findings); err != nil {
				logger.Error("failed to decode scan findings", "scanID", scan.ID, "error", err)
				c.Fail(err, "failed to decode scan findings")
				return
			}
		}
		respScans = append(respScans, toIntegrityScanResponse(scan, findings))
	}

	resp := GetIntegrityHistoryResponse{
		Scans: respScans,
	}

	c.Succeed(req.Method, resp)
	logger.Info("integrity history retrieved", "count", len(respScans))
}

// HandleCreateBackup snapshots the database on demand
func (r *RPCRouter) HandleCreateBackup(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	backup, err := r.BackupService.Snapshot(BackupTagManual)
	if err != nil {
		logger.Error("failed to create backup", "error", err)
		c.Fail(err, "failed to create backup")
		return
	}

	r.wsNotifier.Notify(NewBackupNotification(*backup))

	c.Succeed(req.Method, toBackupResponse(*backup))
	logger.Info("backup created", "path", backup.Path, "sizeBytes", backup.SizeBytes)
}

// HandleGetBackups returns the snapshot catalog
func (r *RPCRouter) HandleGetBackups(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params GetBackupsParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	backups, err := r.BackupService.List(&params.ListOptions)
	if err != nil {
		logger.Error("failed to retrieve backups", "error", err)
		c.Fail(err, "failed to retrieve backups")
		return
	}

	respBackups := make([]BackupResponse, 0, len(backups))
	for _, backup := range backups {
		respBackups = append(respBackups, toBackupResponse(backup))
	}

	resp := GetBackupsResponse{
		Backups: respBackups,
	}

	c.Succeed(req.Method, resp)
	logger.Info("backups retrieved", "count", len(respBackups))
}

// HandleGetRPCHistory returns past RPC mutations recorded by the audit trail
func (r *RPCRouter) HandleGetRPCHistory(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var params GetRPCHistoryParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	method := ""
	if params.Method != nil {
		method = *params.Method
	}

	rpcHistory, err := r.RPCStore.GetRPCHistory(method, &params.ListOptions)
	if err != nil {
		logger.Error("failed to retrieve RPC history", "error", err)
		c.Fail(nil, "failed to retrieve RPC history")
		return
	}

	respRPCEntries := make([]RPCEntry, 0, len(rpcHistory))
	for _, record := range rpcHistory {
		respRPCEntries = append(respRPCEntries, RPCEntry{
			ID:        record.ID,
			Sender:    record.Sender,
			ReqID:     record.ReqID,
			Method:    record.Method,
			Params:    string(record.Params),
			Timestamp: record.Timestamp,
			Result:    string(record.Response),
		})
	}

	resp := GetRPCHistoryResponse{
		RPCEntries: respRPCEntries,
	}

	c.Succeed(req.Method, resp)
	logger.Info("RPC history retrieved", "entryCount", len(respRPCEntries))
}

func toIntegrityScanResponse(scan IntegrityScan, findings []Finding) IntegrityScanResponse {
	return IntegrityScanResponse{
		ID:              scan.ID,
		VouchersChecked: scan.VouchersChecked,
		LinesChecked:    scan.LinesChecked,
		AccountsChecked: scan.AccountsChecked,
		CriticalCount:   scan.CriticalCount,
		WarningCount:    scan.WarningCount,
		Codes:           scan.Codes,
		Findings:        findings,
		CreatedAt:       scan.CreatedAt.Format(time.RFC3339),
	}
}

func toBackupResponse(backup Backup) BackupResponse {
	return BackupResponse{
		ID:        backup.ID,
		Tag:       string(backup.Tag),
		Path:      backup.Path,
		SizeBytes: backup.SizeBytes,
		Stats:     json.RawMessage(backup.Stats),
		CreatedAt: backup.CreatedAt.Format(time.RFC3339),
	}
}
