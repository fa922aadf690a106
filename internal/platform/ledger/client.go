// Package ledger is the sole gateway to the external append-only ledger.
// The ledger is consumed as a black-box JSON-RPC service fronting the
// deployed MedicalProcedure contract; this client never exposes transport
// errors to callers beyond the initial connectivity check. Reads degrade
// to empty results, writes return a typed SubmitError.
package ledger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned by GetProcedure when the ledger has no record
// under the given id.
var ErrNotFound = errors.New("ledger: record not found")

// Receipt is the inclusion receipt for a successful submission.
type Receipt struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	GasUsed     uint64 `json:"gasUsed"`
}

// Record mirrors the contract's getProcedure tuple.
type Record struct {
	ID            string `json:"id"`
	PatientHash   string `json:"patientHash"`
	Practitioner  string `json:"practitioner"`
	ProcedureType string `json:"procedureType"`
	Duration      int    `json:"duration"`
	Timestamp     int64  `json:"timestamp"`
	ConsentHash   string `json:"consentHash"`
	IsActive      bool   `json:"isActive"`
	Metadata      string `json:"metadata"`
}

// SubmitRequest carries one procedure submission. ProcedureID is the local
// record id, reused as the ledger-side identifier so the two stores stay
// correlated without a mapping table; it doubles as the dedupe token the
// gateway may use to reject replays.
type SubmitRequest struct {
	ProcedureID   string `json:"procedureId"`
	PatientHash   string `json:"patientHash"`
	ProcedureType string `json:"procedureType"`
	Duration      int    `json:"duration"`
	ConsentHash   string `json:"consentHash"`
	Metadata      string `json:"metadata"`
}

// SubmitError is the only error type Submit returns. Stage identifies
// which step failed (sign, transport, rpc, inclusion).
type SubmitError struct {
	Stage string
	Cause string
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("ledger submit failed at %s: %s", e.Stage, e.Cause)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// rpcCodeNotFound is the gateway's code for a missing record.
const rpcCodeNotFound = -32004

// Client talks to the ledger gateway for one deployed contract.
type Client struct {
	http     *resty.Client
	contract string
	logger   zerolog.Logger
	seq      atomic.Uint64
}

// Dial constructs a client and verifies the gateway answers. A missing
// contract address or an unreachable endpoint is fatal here; nothing else
// in the process should ever re-check connectivity.
func Dial(endpoint, contractAddr string, timeout time.Duration, logger zerolog.Logger) (*Client, error) {
	if contractAddr == "" {
		return nil, fmt.Errorf("ledger: contract address is required")
	}

	httpClient := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	c := &Client{
		http:     httpClient,
		contract: contractAddr,
		logger:   logger.With().Str("component", "ledger").Logger(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var total int64
	if err := c.call(ctx, "ledger_getTotalProcedures", []interface{}{contractAddr}, &total); err != nil {
		return nil, fmt.Errorf("ledger: endpoint %s unreachable: %w", endpoint, err)
	}

	c.logger.Info().
		Str("endpoint", endpoint).
		Str("contract", contractAddr).
		Int64("total_records", total).
		Msg("connected to ledger")
	return c, nil
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.seq.Add(1),
		Method:  method,
		Params:  params,
	}

	var envelope rpcResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&envelope).
		Post("/")
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	if resp.IsError() {
		return fmt.Errorf("rpc %s: gateway returned HTTP %d", method, resp.StatusCode())
	}
	if envelope.Error != nil {
		if envelope.Error.Code == rpcCodeNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("rpc %s: %s (code %d)", method, envelope.Error.Message, envelope.Error.Code)
	}
	if result != nil {
		if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
			return ErrNotFound
		}
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("rpc %s: decode result: %w", method, err)
		}
	}
	return nil
}

// signPayload produces the hex HMAC-SHA256 signature the gateway verifies
// before relaying a transaction. The canonical payload is pipe-joined in
// field order so both sides agree byte for byte.
func signPayload(req SubmitRequest, signingKey string) string {
	payload := strings.Join([]string{
		req.ProcedureID,
		req.PatientHash,
		req.ProcedureType,
		strconv.Itoa(req.Duration),
		req.ConsentHash,
		req.Metadata,
	}, "|")
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Submit signs and sends one recordProcedure transaction and waits for
// inclusion. It returns either a Receipt or a *SubmitError; it never
// panics and never leaks transport errors as-is.
func (c *Client) Submit(ctx context.Context, req SubmitRequest, signingKey string) (*Receipt, error) {
	if signingKey == "" {
		return nil, &SubmitError{Stage: "sign", Cause: "no signing key configured"}
	}

	params := []interface{}{c.contract, map[string]interface{}{
		"procedureId":   req.ProcedureID,
		"patientHash":   req.PatientHash,
		"procedureType": req.ProcedureType,
		"duration":      req.Duration,
		"consentHash":   req.ConsentHash,
		"metadata":      req.Metadata,
		"signature":     signPayload(req, signingKey),
	}}

	var receipt Receipt
	if err := c.call(ctx, "ledger_recordProcedure", params, &receipt); err != nil {
		c.logger.Warn().
			Err(err).
			Str("procedure_id", req.ProcedureID).
			Msg("ledger submission failed")
		return nil, &SubmitError{Stage: "rpc", Cause: err.Error()}
	}
	if receipt.TxHash == "" {
		return nil, &SubmitError{Stage: "inclusion", Cause: "gateway returned receipt without txHash"}
	}

	c.logger.Info().
		Str("procedure_id", req.ProcedureID).
		Str("tx_hash", receipt.TxHash).
		Uint64("block_number", receipt.BlockNumber).
		Msg("procedure anchored on ledger")
	return &receipt, nil
}

// GetProcedure fetches one record by id. Returns ErrNotFound when the
// ledger has no such record.
func (c *Client) GetProcedure(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := c.call(ctx, "ledger_getProcedure", []interface{}{c.contract, id}, &rec)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		c.logger.Warn().Err(err).Str("id", id).Msg("ledger read failed")
		return nil, ErrNotFound
	}
	return &rec, nil
}

// GetPatientProcedures returns every ledger record for a patient hash.
// The gateway returns ids; each is resolved individually and ids that
// fail to resolve are skipped rather than failing the whole read.
func (c *Client) GetPatientProcedures(ctx context.Context, patientHash string) []Record {
	return c.resolveIDs(ctx, "ledger_getPatientProcedures", patientHash)
}

// GetPractitionerProcedures returns every ledger record submitted by a
// practitioner address, with the same skip-on-failure policy as
// GetPatientProcedures.
func (c *Client) GetPractitionerProcedures(ctx context.Context, address string) []Record {
	return c.resolveIDs(ctx, "ledger_getPractitionerProcedures", address)
}

func (c *Client) resolveIDs(ctx context.Context, method, key string) []Record {
	var ids []string
	if err := c.call(ctx, method, []interface{}{c.contract, key}, &ids); err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn().Err(err).Str("key", key).Msg("ledger id listing failed")
		}
		return nil
	}

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := c.GetProcedure(ctx, id)
		if err != nil {
			continue
		}
		records = append(records, *rec)
	}
	return records
}

// IsPractitioner reports whether the address holds the practitioner role
// on the contract. Any failure reads as false.
func (c *Client) IsPractitioner(ctx context.Context, address string) bool {
	var ok bool
	if err := c.call(ctx, "ledger_isPractitioner", []interface{}{c.contract, address}, &ok); err != nil {
		return false
	}
	return ok
}

// TotalProcedures returns the contract's record count, or 0 on any failure.
func (c *Client) TotalProcedures(ctx context.Context) int64 {
	var total int64
	if err := c.call(ctx, "ledger_getTotalProcedures", []interface{}{c.contract}, &total); err != nil {
		return 0
	}
	return total
}
