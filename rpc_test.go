package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestRPCMessageValidate(t *testing.T) {
	validate := getValidator()
	rpcMsg := &RPCMessage{
		Req: &RPCData{
			RequestID: 1,
			Method:    "testMethod",
			Params:    []any{"param1", 2},
			Timestamp: uint64(time.Now().Unix()),
		},
	}

	if err := validate.Struct(rpcMsg); err != nil {
		t.Errorf("expected no error, got %v", err)
	}

	rpcMsg.Req.Method = ""
	if err := validate.Struct(rpcMsg); err == nil {
		t.Error("expected error for empty method, got nil")
	}

	rpcMsg.Req = nil
	if err := validate.Struct(rpcMsg); err == nil {
		t.Error("expected error for empty method, got nil")
	}
}

func TestRPCParamsValidate(t *testing.T) {
	validate := getValidator()

	params := struct {
		TestDecimalAmount decimal.Decimal `validate:"amount"`
		TestStringAmount  string          `validate:"amount"`
	}{
		TestDecimalAmount: decimal.RequireFromString("1234.50"),
		TestStringAmount:  "1234.50",
	}

	if err := validate.Struct(params); err != nil {
		t.Errorf("expected no error, got %v", err)
	}

	params.TestDecimalAmount = decimal.RequireFromString("-5")
	if err := validate.Struct(params); err == nil {
		t.Error("expected error for negative amount, got nil")
	}

	params.TestDecimalAmount = decimal.RequireFromString("10.123")
	if err := validate.Struct(params); err == nil {
		t.Error("expected error for sub-cent amount, got nil")
	}
}

func TestRPCDataWireFormat(t *testing.T) {
	data := RPCData{
		RequestID: 42,
		Method:    "create_voucher",
		Params:    map[string]any{"number": "V-000001"},
		Timestamp: 1700000000000,
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	want := `[42,"create_voucher",{"number":"V-000001"},1700000000000]`
	if string(encoded) != want {
		t.Errorf("expected %s, got %s", want, encoded)
	}

	var decoded RPCData
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.RequestID != data.RequestID || decoded.Method != data.Method || decoded.Timestamp != data.Timestamp {
		t.Errorf("round trip mismatch: %+v", decoded)
	}

	if err := json.Unmarshal([]byte(`[1,"method",{}]`), &decoded); err == nil {
		t.Error("expected error for 3-element array, got nil")
	}
	if err := json.Unmarshal([]byte(`{"request_id":1}`), &decoded); err == nil {
		t.Error("expected error for object form, got nil")
	}
}

func TestParseRPCMessage(t *testing.T) {
	msg, err := ParseRPCMessage([]byte(`{"req":[1,"ping",{},1700000000000]}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if msg.Req == nil || msg.Req.Method != "ping" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.Res != nil {
		t.Errorf("expected no response part, got %+v", msg.Res)
	}

	if _, err := ParseRPCMessage([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON, got nil")
	}
}

func TestRPCError(t *testing.T) {
	err := RPCErrorf("account not found: %s", "9999")
	if err.Error() != "account not found: 9999" {
		t.Errorf("unexpected message: %s", err.Error())
	}

	// Handlers surface RPCError text verbatim and hide everything else
	var rpcErr RPCError
	if !errors.As(fmt.Errorf("wrap: %w", err), &rpcErr) {
		t.Error("expected wrapped RPCError to be detected")
	}
	if errors.As(errors.New("database connection failed"), &rpcErr) {
		t.Error("plain errors must not be treated as client-facing")
	}
}
