package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Metrics contains all Prometheus metrics for the application.
// Monetary gauges are float64 approximations for dashboards only;
// the ledger itself never leaves decimal arithmetic.
type Metrics struct {
	// WebSocket connection metrics
	ConnectedClients prometheus.Gauge
	ConnectionsTotal prometheus.Counter
	MessageReceived  prometheus.Counter
	MessageSent      prometheus.Counter

	// Authentication metrics
	AuthRequests        prometheus.Counter
	AuthAttemptsTotal   *prometheus.CounterVec
	AuthAttemptsSuccess *prometheus.CounterVec
	AuthAttemptsFail    *prometheus.CounterVec

	// Posting metrics
	PostAttemptsTotal   prometheus.Counter
	PostAttemptsSuccess prometheus.Counter
	PostAttemptsFail    prometheus.Counter
	ReversalsTotal      prometheus.Counter

	// Bookkeeping state metrics
	Vouchers *prometheus.GaugeVec
	Accounts *prometheus.GaugeVec

	// RPC method metrics
	RPCRequests *prometheus.CounterVec

	// Ledger aggregate metrics
	PostedDebitTotal  prometheus.Gauge
	PostedCreditTotal prometheus.Gauge
	LedgerDrift       prometheus.Gauge

	// Report metrics
	ReportsGenerated   *prometheus.CounterVec
	ReportCacheEntries prometheus.Gauge

	// Integrity metrics
	IntegrityScans    prometheus.Gauge
	IntegrityFindings *prometheus.GaugeVec

	// Backup metrics
	Backups             prometheus.Gauge
	LastBackupTimestamp prometheus.Gauge
}

// NewMetrics initializes and registers Prometheus metrics
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry initializes and registers Prometheus metrics with a custom registry
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	metrics := &Metrics{
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerd_connected_clients",
			Help: "The current number of connected clients",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_connections_total",
			Help: "The total number of WebSocket connections made since server start",
		}),
		MessageReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_ws_messages_received_total",
			Help: "The total number of WebSocket messages received",
		}),
		MessageSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_ws_messages_sent_total",
			Help: "The total number of WebSocket messages sent",
		}),
		AuthRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_auth_requests_total",
			Help: "The total number of auth_request calls",
		}),
		AuthAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerd_auth_attempts_total",
				Help: "The total number of authentication attempts",
			},
			[]string{"auth_method"},
		),
		AuthAttemptsSuccess: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerd_auth_attempts_success",
				Help: "The total number of successful authentication attempts",
			},
			[]string{"auth_method"},
		),
		AuthAttemptsFail: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerd_auth_attempts_fail",
				Help: "The total number of failed authentication attempts",
			},
			[]string{"auth_method"},
		),
		PostAttemptsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_post_attempts_total",
			Help: "The total number of voucher post attempts",
		}),
		PostAttemptsSuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_post_attempts_success",
			Help: "The total number of successful voucher post attempts",
		}),
		PostAttemptsFail: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_post_attempts_fail",
			Help: "The total number of failed voucher post attempts",
		}),
		ReversalsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_reversals_total",
			Help: "The total number of posted voucher reversals",
		}),
		Vouchers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledgerd_vouchers",
			Help: "The number of vouchers",
		},
			[]string{"status"},
		),
		Accounts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledgerd_accounts",
			Help: "The number of chart of accounts entries",
		},
			[]string{"type", "status"},
		),
		RPCRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerd_rpc_requests_total",
				Help: "The total number of RPC requests by method",
			},
			[]string{"method", "status"},
		),
		PostedDebitTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerd_posted_debit_total",
			Help: "Sum of all posted debit amounts",
		}),
		PostedCreditTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerd_posted_credit_total",
			Help: "Sum of all posted credit amounts",
		}),
		LedgerDrift: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerd_ledger_drift",
			Help: "Posted debit total minus posted credit total, zero for a healthy ledger",
		}),
		ReportsGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerd_reports_generated_total",
				Help: "The total number of generated reports by kind",
			},
			[]string{"kind"},
		),
		ReportCacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerd_report_cache_entries",
			Help: "The current number of cached report payloads",
		}),
		IntegrityScans: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerd_integrity_scans",
			Help: "The total number of recorded integrity scans",
		}),
		IntegrityFindings: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledgerd_integrity_findings",
			Help: "Findings reported by the most recent integrity scan",
		},
			[]string{"severity"},
		),
		Backups: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerd_backups",
			Help: "The number of snapshot files tracked in the backup catalog",
		}),
		LastBackupTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerd_last_backup_timestamp_seconds",
			Help: "Unix timestamp of the most recent backup",
		}),
	}

	return metrics
}

// RecordMetricsPeriodically refreshes the database-backed gauges.
// Counter metrics are incremented inline by the RPC router.
func (m *Metrics) RecordMetricsPeriodically(db *gorm.DB, cache *ReportCache, logger Logger) {
	logger = logger.NewSystem("metrics")
	dbTicker := time.NewTicker(15 * time.Second)
	defer dbTicker.Stop()

	ledgerTicker := time.NewTicker(30 * time.Second)
	defer ledgerTicker.Stop()
	for {
		select {
		case <-dbTicker.C:
			m.UpdateVoucherMetrics(db)
			m.UpdateAccountMetrics(db)
			m.ReportCacheEntries.Set(float64(cache.Len()))
		case <-ledgerTicker.C:
			m.UpdateLedgerMetrics(db, logger)
			m.UpdateIntegrityMetrics(db)
			m.UpdateBackupMetrics(db)
		}
	}
}

// UpdateVoucherMetrics updates the voucher count gauges from the database
func (m *Metrics) UpdateVoucherMetrics(db *gorm.DB) {
	type StatusCount struct {
		Status string
		Count  int64
	}

	var results []StatusCount

	err := db.Model(&Voucher{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&results).Error
	if err != nil {
		return
	}

	// Reset the gauge vector before setting new values
	m.Vouchers.Reset()

	for _, row := range results {
		m.Vouchers.WithLabelValues(row.Status).Set(float64(row.Count))
	}
}

// UpdateAccountMetrics updates the chart of accounts gauges from the database
func (m *Metrics) UpdateAccountMetrics(db *gorm.DB) {
	type TypeStatusCount struct {
		Type   uint16
		Status string
		Count  int64
	}

	var results []TypeStatusCount

	err := db.Model(&Account{}).
		Select("type, status, COUNT(*) as count").
		Group("type, status").
		Scan(&results).Error
	if err != nil {
		return
	}

	// Stage values to avoid partial update issues
	tmp := make(map[TypeStatusCount]float64)
	for _, row := range results {
		tmp[TypeStatusCount{Type: row.Type, Status: row.Status}] = float64(row.Count)
	}

	// Now safely update the GaugeVec
	m.Accounts.Reset()
	for key, count := range tmp {
		m.Accounts.WithLabelValues(AccountType(key.Type).String(), key.Status).Set(count)
	}
}

// UpdateLedgerMetrics recomputes the posted debit and credit totals.
// Drift should stay at zero; anything else means a posted voucher
// bypassed the balance check.
func (m *Metrics) UpdateLedgerMetrics(db *gorm.DB, logger Logger) {
	totals, err := postedTotalsByAccount(db, nil, nil)
	if err != nil {
		logger.Warn("failed to compute posted ledger totals", "error", err)
		return
	}

	debit := decimal.Zero
	credit := decimal.Zero
	for _, t := range totals {
		debit = debit.Add(t.Debit)
		credit = credit.Add(t.Credit)
	}

	debitApprox, _ := debit.Float64()
	creditApprox, _ := credit.Float64()
	driftApprox, _ := debit.Sub(credit).Float64()

	m.PostedDebitTotal.Set(debitApprox)
	m.PostedCreditTotal.Set(creditApprox)
	m.LedgerDrift.Set(driftApprox)
}

// UpdateIntegrityMetrics reflects the latest integrity scan in the gauges
func (m *Metrics) UpdateIntegrityMetrics(db *gorm.DB) {
	var scanCount int64
	if err := db.Model(&IntegrityScan{}).Count(&scanCount).Error; err != nil {
		return
	}
	m.IntegrityScans.Set(float64(scanCount))

	m.IntegrityFindings.Reset()
	if scanCount == 0 {
		return
	}

	var latest IntegrityScan
	if err := db.Order("created_at DESC, id DESC").First(&latest).Error; err != nil {
		return
	}

	m.IntegrityFindings.WithLabelValues(string(SeverityCritical)).Set(float64(latest.CriticalCount))
	m.IntegrityFindings.WithLabelValues(string(SeverityWarning)).Set(float64(latest.WarningCount))
}

// UpdateBackupMetrics updates the backup catalog gauges from the database
func (m *Metrics) UpdateBackupMetrics(db *gorm.DB) {
	var backupCount int64
	if err := db.Model(&Backup{}).Count(&backupCount).Error; err != nil {
		return
	}
	m.Backups.Set(float64(backupCount))

	if backupCount == 0 {
		return
	}

	var latest Backup
	if err := db.Order("created_at DESC, id DESC").First(&latest).Error; err != nil {
		return
	}
	m.LastBackupTimestamp.Set(float64(latest.CreatedAt.Unix()))
}
