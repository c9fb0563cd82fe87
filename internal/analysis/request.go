// Package analysis produces advisory risk summaries for pending calls.
// Nothing here gates a decision: failures surface as ErrAnalysisUnavailable
// and the review surface stays usable.
package analysis

import (
	"encoding/json"
	"strings"

	"github.com/ppiankov/txwatch/internal/model"
)

// Tx is the normalized transaction shape sent to analyzers.
type Tx struct {
	From                 string `json:"from,omitempty"`
	To                   string `json:"to,omitempty"`
	Value                string `json:"value,omitempty"`
	Data                 string `json:"data,omitempty"`
	Gas                  string `json:"gas,omitempty"`
	GasPrice             string `json:"gas_price,omitempty"`
	MaxFeePerGas         string `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas string `json:"max_priority_fee_per_gas,omitempty"`
	Nonce                string `json:"nonce,omitempty"`
	ChainID              string `json:"chain_id,omitempty"`
	Raw                  string `json:"raw,omitempty"` // signed payload of eth_sendRawTransaction
}

// Request is what an analyzer receives for one call.
type Request struct {
	ID      string `json:"id"`
	Method  string `json:"method"`
	Origin  string `json:"origin"`
	Tx      *Tx    `json:"tx,omitempty"`
	Message string `json:"message,omitempty"` // signing payload for message and typed-data methods
}

// NewRequest normalizes call into an analysis request.
func NewRequest(call model.InterceptedCall) Request {
	req := Request{ID: call.ID, Method: call.Method, Origin: call.Origin}
	switch {
	case call.Method == model.MethodSendRawTransaction:
		if raw := stringParam(call.Params, 0); raw != "" {
			req.Tx = &Tx{Raw: raw}
		}
	case model.IsTransaction(call.Method):
		req.Tx = Normalize(call.Params)
	case strings.HasPrefix(call.Method, "eth_signTypedData"):
		// Typed data is (address, data) for v3/v4 and (data, address) for v1.
		req.Message = firstNonAddress(call.Params)
	case call.Method == model.MethodPersonalSign:
		req.Message = stringParam(call.Params, 0)
	case call.Method == model.MethodSign:
		req.Message = stringParam(call.Params, 1)
	default:
		if len(call.Params) > 0 {
			req.Message = string(call.Params[0])
		}
	}
	return req
}

// Normalize extracts the transaction object from send/sign params.
func Normalize(params []json.RawMessage) *Tx {
	if len(params) == 0 {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(params[0], &obj); err != nil {
		return nil
	}
	field := func(names ...string) string {
		for _, n := range names {
			if v, ok := obj[n]; ok {
				var s string
				if json.Unmarshal(v, &s) == nil {
					return s
				}
				return strings.Trim(string(v), `"`)
			}
		}
		return ""
	}
	return &Tx{
		From:                 field("from"),
		To:                   field("to"),
		Value:                field("value"),
		Data:                 field("data", "input"),
		Gas:                  field("gas", "gasLimit"),
		GasPrice:             field("gasPrice"),
		MaxFeePerGas:         field("maxFeePerGas"),
		MaxPriorityFeePerGas: field("maxPriorityFeePerGas"),
		Nonce:                field("nonce"),
		ChainID:              field("chainId"),
	}
}

func stringParam(params []json.RawMessage, i int) string {
	if i >= len(params) {
		return ""
	}
	var s string
	if err := json.Unmarshal(params[i], &s); err != nil {
		return string(params[i])
	}
	return s
}

func firstNonAddress(params []json.RawMessage) string {
	for i := range params {
		s := stringParam(params, i)
		if !isAddress(s) {
			return s
		}
	}
	return ""
}

func isAddress(s string) bool {
	return len(s) == 42 && strings.HasPrefix(strings.ToLower(s), "0x")
}
