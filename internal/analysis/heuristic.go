package analysis

import (
	"context"
	"encoding/json"
	"math/big"
	"net/url"
	"strings"

	"github.com/ppiankov/txwatch/internal/model"
)

// Function selectors with known abuse patterns.
const (
	selApprove           = "0x095ea7b3"
	selSetApprovalForAll = "0xa22cb465"
	selTransfer          = "0xa9059cbb"
	selTransferFrom      = "0x23b872dd"
	selPermit            = "0xd505accf"
	selIncreaseAllowance = "0x39509351"
)

var selectorNames = map[string]string{
	selApprove:           "approve(address,uint256)",
	selSetApprovalForAll: "setApprovalForAll(address,bool)",
	selTransfer:          "transfer(address,uint256)",
	selTransferFrom:      "transferFrom(address,address,uint256)",
	selPermit:            "permit(address,address,uint256,uint256,uint8,bytes32,bytes32)",
	selIncreaseAllowance: "increaseAllowance(address,uint256)",
}

var (
	weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	// Allowances at or above 2^255 are treated as unlimited.
	unlimitedAllowance = new(big.Int).Lsh(big.NewInt(1), 255)
)

// Heuristic scores calls with static rules. It needs no network and is the
// fallback when no model backend is configured or reachable.
type Heuristic struct{}

// Analyze never fails.
func (Heuristic) Analyze(_ context.Context, req Request) (Verdict, error) {
	var (
		score    int
		warnings []string
		contract *ContractInfo
		desc     string
	)
	add := func(points int, warning string) {
		score += points
		warnings = append(warnings, warning)
	}

	switch {
	case req.Method == model.MethodSendRawTransaction:
		desc = "Broadcast of a pre-signed transaction."
		add(35, "raw transaction payload cannot be inspected before broadcast")
	case req.Tx != nil:
		desc, contract = describeTx(req.Tx, add)
	case req.Method == model.MethodSign:
		desc = "Signature over an opaque hash."
		add(80, "eth_sign can authorize any transaction; the signed content is not human readable")
	case strings.HasPrefix(req.Method, "eth_signTypedData"):
		desc = "Typed structured data signature."
		describeTypedData(req.Message, add)
	case req.Method == model.MethodPersonalSign:
		desc = "Plain message signature."
		if strings.Contains(strings.ToLower(decodeHexText(req.Message)), "nonce") {
			desc = "Sign-in style message signature."
		}
	case req.Method == model.MethodAddEthereumChain:
		desc = "Request to add a new network to the wallet."
		add(30, "an unfamiliar RPC endpoint can misreport balances and transactions")
	case req.Method == model.MethodSwitchEthereumChain:
		desc = "Request to switch the active network."
		add(10, "confirm the target chain is the one you expect")
	default:
		desc = "Wallet request " + req.Method + "."
	}

	if u, err := url.Parse(req.Origin); err == nil && u.Scheme == "http" && !isLocalHost(u.Hostname()) {
		add(15, "origin is not served over https")
	}

	score = min(score, 100)
	if warnings == nil {
		warnings = []string{}
	}
	return Verdict{
		RiskLevel:   RiskFor(score),
		FraudScore:  score,
		Description: desc,
		Warnings:    warnings,
		Contract:    contract,
		Confidence:  0.5,
		Source:      "heuristic",
	}, nil
}

// Stream renders the heuristic verdict as narrative chunks.
func (h Heuristic) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	v, _ := h.Analyze(ctx, req)
	parts := []string{v.Description, " Risk: " + v.RiskLevel + "."}
	for _, w := range v.Warnings {
		parts = append(parts, " Warning: "+w+".")
	}
	ch := make(chan Chunk, len(parts)+1)
	for _, p := range parts {
		ch <- Chunk{Text: p}
	}
	ch <- Chunk{Done: true}
	close(ch)
	return ch, nil
}

func describeTx(tx *Tx, add func(int, string)) (string, *ContractInfo) {
	data := strings.ToLower(tx.Data)
	if tx.To == "" {
		if len(data) > 2 {
			add(30, "transaction deploys a new contract")
			return "Contract deployment.", nil
		}
		add(40, "transaction has no recipient")
		return "Transaction without a recipient.", nil
	}

	desc := "Transfer of native currency."
	var contract *ContractInfo
	if len(data) >= 10 {
		sel := data[:10]
		contract = &ContractInfo{Address: tx.To, Function: selectorNames[sel]}
		desc = "Contract call."
		args := data[10:]
		switch sel {
		case selApprove, selIncreaseAllowance:
			desc = "Token spending approval."
			if amount := word(args, 1); amount != nil && amount.Cmp(unlimitedAllowance) >= 0 {
				add(60, "unlimited token allowance for "+addressWord(args, 0))
			} else {
				add(25, "token allowance for "+addressWord(args, 0))
			}
		case selSetApprovalForAll:
			desc = "Collection-wide operator approval."
			if flag := word(args, 1); flag != nil && flag.Sign() != 0 {
				add(65, "grants "+addressWord(args, 0)+" control over every token in the collection")
			}
		case selPermit:
			add(50, "permit grants an allowance without an on-chain approval")
		case selTransferFrom:
			desc = "Token transfer on behalf of an owner."
			add(30, "transferFrom moves tokens from "+addressWord(args, 0))
		case selTransfer:
			desc = "Token transfer."
			add(5, "tokens sent to "+addressWord(args, 0))
		default:
			add(10, "calls an unrecognized contract function "+sel)
		}
	}

	if v := quantity(tx.Value); v != nil && v.Sign() > 0 {
		ten := new(big.Int).Mul(weiPerEther, big.NewInt(10))
		switch {
		case v.Cmp(ten) >= 0:
			add(40, "transfers more than 10 units of native currency")
		case v.Cmp(weiPerEther) >= 0:
			add(20, "transfers more than 1 unit of native currency")
		}
		if len(data) >= 10 {
			add(10, "sends value along with a contract call")
		}
	}
	return desc, contract
}

func describeTypedData(msg string, add func(int, string)) {
	var td struct {
		PrimaryType string `json:"primaryType"`
		Message     struct {
			Spender string `json:"spender"`
			Value   any    `json:"value"`
		} `json:"message"`
	}
	if json.Unmarshal([]byte(msg), &td) != nil {
		add(20, "typed data payload could not be decoded")
		return
	}
	switch strings.ToLower(td.PrimaryType) {
	case "permit", "permitsingle", "permitbatch", "permittransferfrom":
		w := "off-chain permit grants a token allowance"
		if td.Message.Spender != "" {
			w += " to " + td.Message.Spender
		}
		add(55, w)
	case "order", "ordercomponents":
		add(35, "marketplace order signature can transfer assets when filled")
	}
}

// word returns the i-th 32-byte ABI argument of args as an integer.
func word(args string, i int) *big.Int {
	start, end := i*64, (i+1)*64
	if len(args) < end {
		return nil
	}
	n, ok := new(big.Int).SetString(args[start:end], 16)
	if !ok {
		return nil
	}
	return n
}

func addressWord(args string, i int) string {
	end := (i + 1) * 64
	if len(args) < end {
		return "unknown address"
	}
	return "0x" + args[end-40:end]
}

func quantity(s string) *big.Int {
	if s == "" {
		return nil
	}
	base := 10
	if h, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		s, base = h, 16
	}
	n, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil
	}
	return n
}

func decodeHexText(s string) string {
	h, ok := strings.CutPrefix(s, "0x")
	if !ok {
		return s
	}
	b, ok := new(big.Int).SetString(h, 16)
	if !ok {
		return s
	}
	return string(b.Bytes())
}

func isLocalHost(h string) bool {
	return h == "localhost" || h == "127.0.0.1" || h == "::1"
}
