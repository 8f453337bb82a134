package main

import (
	"encoding/json"

	"gorm.io/gorm"
)

// RPCRecord represents a stored RPC mutation in the database.
// Only mutating methods are recorded, giving every posted voucher and
// chart change a request-level audit trail.
type RPCRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Sender    string `gorm:"column:sender;type:varchar(255);not null"`
	ReqID     uint64 `gorm:"column:req_id;not null"`
	Method    string `gorm:"column:method;type:varchar(255);not null"`
	Params    []byte `gorm:"column:params;type:text;not null"`
	Timestamp uint64 `gorm:"column:timestamp;not null"`
	Response  []byte `gorm:"column:response;type:text;not null"`
}

// TableName specifies the table name for the RPCRecord model
func (RPCRecord) TableName() string {
	return "rpc_store"
}

// RPCStore handles RPC message storage and retrieval
type RPCStore struct {
	db *gorm.DB
}

// NewRPCStore creates a new RPCStore instance
func NewRPCStore(db *gorm.DB) *RPCStore {
	return &RPCStore{db: db}
}

// StoreMessage stores an RPC message in the database
func (s *RPCStore) StoreMessage(sender string, req *RPCData, resBytes []byte) error {
	paramsBytes, err := json.Marshal(req.Params)
	if err != nil {
		return err
	}

	msg := &RPCRecord{
		ReqID:     req.RequestID,
		Sender:    sender,
		Method:    req.Method,
		Params:    paramsBytes,
		Response:  resBytes,
		Timestamp: req.Timestamp,
	}

	return s.db.Create(msg).Error
}

// GetRPCHistory retrieves stored RPC messages with pagination.
// Method narrows the history to a single RPC method when non-empty.
func (s *RPCStore) GetRPCHistory(method string, options *ListOptions) ([]RPCRecord, error) {
	query := applyListOptions(s.db, "timestamp", SortTypeDescending, options)
	if method != "" {
		query = query.Where("method = ?", method)
	}

	var rpcHistory []RPCRecord
	err := query.Find(&rpcHistory).Error
	return rpcHistory, err
}
