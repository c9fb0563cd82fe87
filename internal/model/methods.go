package model

import "sort"

// Reviewable method names. Anything else passes through untouched.
const (
	MethodSendTransaction     = "eth_sendTransaction"
	MethodSignTransaction     = "eth_signTransaction"
	MethodSendRawTransaction  = "eth_sendRawTransaction"
	MethodSign                = "eth_sign"
	MethodPersonalSign        = "personal_sign"
	MethodSignTypedData       = "eth_signTypedData"
	MethodSignTypedDataV1     = "eth_signTypedData_v1"
	MethodSignTypedDataV3     = "eth_signTypedData_v3"
	MethodSignTypedDataV4     = "eth_signTypedData_v4"
	MethodAddEthereumChain    = "wallet_addEthereumChain"
	MethodSwitchEthereumChain = "wallet_switchEthereumChain"
)

var reviewable = map[string]bool{
	MethodSendTransaction:     true,
	MethodSignTransaction:     true,
	MethodSendRawTransaction:  true,
	MethodSign:                true,
	MethodPersonalSign:        true,
	MethodSignTypedData:       true,
	MethodSignTypedDataV1:     true,
	MethodSignTypedDataV3:     true,
	MethodSignTypedDataV4:     true,
	MethodAddEthereumChain:    true,
	MethodSwitchEthereumChain: true,
}

// IsReviewable reports whether method is on the built-in allow-list.
// Matching is exact and case-sensitive.
func IsReviewable(method string) bool {
	return reviewable[method]
}

// ReviewableMethods returns the built-in allow-list, sorted.
func ReviewableMethods() []string {
	out := make([]string, 0, len(reviewable))
	for m := range reviewable {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// IsTransaction reports whether method carries a transaction object or raw transaction.
func IsTransaction(method string) bool {
	switch method {
	case MethodSendTransaction, MethodSignTransaction, MethodSendRawTransaction:
		return true
	}
	return false
}

// Classifier decides which methods require review. The zero value uses the
// built-in list; Extra adds exact names chosen deliberately by the operator.
type Classifier struct {
	Extra map[string]bool
}

// NewClassifier builds a classifier extended with the given exact method names.
func NewClassifier(extra []string) Classifier {
	if len(extra) == 0 {
		return Classifier{}
	}
	m := make(map[string]bool, len(extra))
	for _, e := range extra {
		if e != "" {
			m[e] = true
		}
	}
	return Classifier{Extra: m}
}

// Reviewable reports whether method must be held for approval.
func (c Classifier) Reviewable(method string) bool {
	return IsReviewable(method) || c.Extra[method]
}
