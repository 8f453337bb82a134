package main

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	ConnectionStorageSessionKey = "connection_auth_session"
)

type RPCRouter struct {
	Node             *RPCNode
	Config           *Config
	AccountService   *AccountService
	VoucherService   *VoucherService
	ReportService    *ReportService
	IntegrityChecker *IntegrityChecker
	BackupService    *BackupService
	Cache            *ReportCache
	DB               *gorm.DB
	AuthManager      *AuthManager
	Metrics          *Metrics
	RPCStore         *RPCStore
	MessageCache     *MessageCache
	wsNotifier       *WSNotifier

	lg Logger
}

func NewRPCRouter(
	node *RPCNode,
	conf *Config,
	accountService *AccountService,
	voucherService *VoucherService,
	reportService *ReportService,
	integrityChecker *IntegrityChecker,
	backupService *BackupService,
	cache *ReportCache,
	db *gorm.DB,
	authManager *AuthManager,
	metrics *Metrics,
	rpcStore *RPCStore,
	wsNotifier *WSNotifier,
	logger Logger,
) *RPCRouter {
	r := &RPCRouter{
		Node:             node,
		Config:           conf,
		AccountService:   accountService,
		VoucherService:   voucherService,
		ReportService:    reportService,
		IntegrityChecker: integrityChecker,
		BackupService:    backupService,
		Cache:            cache,
		DB:               db,
		AuthManager:      authManager,
		Metrics:          metrics,
		RPCStore:         rpcStore,
		MessageCache:     NewMessageCache(time.Duration(conf.msgExpiryTime) * time.Second),
		wsNotifier:       wsNotifier,
		lg:               logger.NewSystem("rpc-router"),
	}

	r.Node.OnConnect(r.HandleConnect)
	r.Node.OnDisconnect(r.HandleDisconnect)
	r.Node.OnAuthenticated(r.HandleAuthenticated)
	r.Node.OnMessageSent(r.HandleMessageSent)

	r.Node.Use(r.LoggerMiddleware)
	r.Node.Use(r.MetricsMiddleware)
	r.Node.Handle("ping", r.HandlePing)
	r.Node.Handle("get_config", r.HandleGetConfig)
	r.Node.Handle("get_accounts", r.HandleGetAccounts)
	r.Node.Handle("get_account", r.HandleGetAccount)
	r.Node.Handle("get_vouchers", r.HandleGetVouchers)
	r.Node.Handle("get_voucher", r.HandleGetVoucher)
	r.Node.Handle("get_ledger", r.HandleGetLedger)
	r.Node.Handle("get_general_ledger", r.HandleGetGeneralLedger)
	r.Node.Handle("get_trial_balance", r.HandleGetTrialBalance)
	r.Node.Handle("get_profit_loss", r.HandleGetProfitLoss)
	r.Node.Handle("get_balance_sheet", r.HandleGetBalanceSheet)
	r.Node.Handle("get_cash_flow", r.HandleGetCashFlow)
	r.Node.Handle("get_dashboard", r.HandleGetDashboard)
	r.Node.Handle("auth_request", r.HandleAuthRequest)
	r.Node.Handle("auth_verify", r.HandleAuthVerify)

	testModeGroup := r.Node.NewGroup("test_mode")
	testModeGroup.Use(r.TestModeMiddleware)
	testModeGroup.Handle("flush_report_cache", r.HandleFlushReportCache)

	privGroup := r.Node.NewGroup("private")
	privGroup.Use(r.AuthMiddleware)

	privGroup.Handle("get_rpc_history", r.HandleGetRPCHistory)
	privGroup.Handle("get_integrity_history", r.HandleGetIntegrityHistory)
	privGroup.Handle("get_backups", r.HandleGetBackups)
	privGroup.Handle("run_integrity_scan", r.HandleRunIntegrityScan)

	historyGroup := privGroup.NewGroup("")
	historyGroup.Use(r.HistoryMiddleware)
	historyGroup.Handle("create_account", r.HandleCreateAccount)
	historyGroup.Handle("update_account", r.HandleUpdateAccount)
	historyGroup.Handle("deactivate_account", r.HandleDeactivateAccount)
	historyGroup.Handle("reactivate_account", r.HandleReactivateAccount)
	historyGroup.Handle("create_voucher", r.HandleCreateVoucher)
	historyGroup.Handle("add_voucher_line", r.HandleAddVoucherLine)
	historyGroup.Handle("remove_voucher_line", r.HandleRemoveVoucherLine)
	historyGroup.Handle("delete_voucher", r.HandleDeleteVoucher)
	historyGroup.Handle("post_voucher", r.HandlePostVoucher)
	historyGroup.Handle("reverse_voucher", r.HandleReverseVoucher)
	historyGroup.Handle("create_backup", r.HandleCreateBackup)

	return r
}

func (r *RPCRouter) HandleConnect(send SendRPCMessageFunc) {
	// Increment connection metrics
	r.Metrics.ConnectionsTotal.Inc()
	r.Metrics.ConnectedClients.Inc()

	// Greet the client with the configured chart of accounts
	respAccounts := []ChartAccountResponse{}
	for _, account := range r.Config.chart.Accounts {
		if account.Disabled {
			continue
		}

		respAccounts = append(respAccounts, ChartAccountResponse{
			Code:           account.Code,
			Name:           account.Name,
			Type:           account.Type,
			CashEquivalent: account.CashEquivalent,
		})
	}

	send("chart", ChartResponse{Accounts: respAccounts})
}

func (r *RPCRouter) HandleDisconnect(userID string) {
	// Decrement connection metrics
	r.Metrics.ConnectedClients.Dec()
}

func (r *RPCRouter) HandleAuthenticated(userID string, send SendRPCMessageFunc) {
	// Send an initial dashboard snapshot so operator UIs can render
	// without an extra round trip
	dashboard, err := r.ReportService.Dashboard()
	if err != nil {
		r.lg.Error("error building dashboard snapshot", "error", err)
		return
	}

	send("dashboard", dashboard)
}

func (r *RPCRouter) HandleMessageSent() {
	// Increment sent message counter
	r.Metrics.MessageSent.Inc()
}

func (r *RPCRouter) LoggerMiddleware(c *RPCContext) {
	logger := r.lg.With("requestID", c.Message.Req.RequestID)
	c.Context = SetContextLogger(c.Context, logger)
	logger = LoggerFromContext(c.Context)

	c.Next()

	if c.Message.Res == nil {
		logger.Warn("RPC response is nil",
			"userID", c.UserID,
			"method", c.Message.Req.Method,
		)
		return
	}

	if c.Message.Res.Method == "error" {
		logger.Warn("failed to handle RPC request",
			"userID", c.UserID,
			"method", c.Message.Req.Method,
			"error", c.Message.Res.Params,
		)
	}
}

func (r *RPCRouter) MetricsMiddleware(c *RPCContext) {
	// Increment received message counter
	r.Metrics.MessageReceived.Inc()

	reqMethod := c.Message.Req.Method
	c.Next()

	status := "success"
	if c.Message.Res.Method == "error" {
		status = "failure"
	}

	r.Metrics.RPCRequests.WithLabelValues(reqMethod, status).Inc()
}

type RPCEntry struct {
	ID        uint   `json:"id"`
	Sender    string `json:"sender"`
	ReqID     uint64 `json:"req_id"`
	Method    string `json:"method"`
	Params    string `json:"params"`
	Timestamp uint64 `json:"timestamp"`
	Result    string `json:"response"`
}

func (r *RPCRouter) HistoryMiddleware(c *RPCContext) {
	logger := LoggerFromContext(c.Context)

	req := c.Message.Req
	c.Next()

	resRaw, err := json.Marshal(c.Message.Res)
	if err != nil {
		logger.Error("failed to marshal response", "error", err)
		return
	}

	// Store the request in history
	if err := r.RPCStore.StoreMessage(c.UserID, req, resRaw); err != nil {
		logger.Error("failed to store RPC message", "error", err)
	}
}

func (r *RPCRouter) TestModeMiddleware(c *RPCContext) {
	if r.Config.mode != ModeTest {
		c.Fail(nil, "test mode endpoints are disabled")
		return
	}

	c.Next()
}

func (r *RPCRouter) HandleFlushReportCache(c *RPCContext) {
	r.Cache.Flush()
	c.Succeed(c.Message.Req.Method, nil)
}

func parseParams(params RPCDataParams, unmarshalTo any) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to parse parameters: %w", err)
	}

	err = json.Unmarshal(paramsJSON, &unmarshalTo)
	if err != nil {
		return err
	}

	return getValidator().Struct(unmarshalTo)
}
