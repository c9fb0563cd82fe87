package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestReviewableAllowList(t *testing.T) {
	for _, m := range []string{
		"eth_sendTransaction", "eth_signTransaction", "eth_sendRawTransaction",
		"eth_sign", "personal_sign", "eth_signTypedData", "eth_signTypedData_v1",
		"eth_signTypedData_v3", "eth_signTypedData_v4",
		"wallet_addEthereumChain", "wallet_switchEthereumChain",
	} {
		if !IsReviewable(m) {
			t.Errorf("expected %s to be reviewable", m)
		}
	}
	for _, m := range []string{"eth_chainId", "eth_accounts", "eth_call", "wallet_requestPermissions", "ETH_SENDTRANSACTION", ""} {
		if IsReviewable(m) {
			t.Errorf("expected %s to pass through", m)
		}
	}
	if len(ReviewableMethods()) != 11 {
		t.Errorf("expected 11 reviewable methods, got %d", len(ReviewableMethods()))
	}
}

func TestClassifierExtra(t *testing.T) {
	c := NewClassifier([]string{"wallet_watchAsset", ""})
	if !c.Reviewable("wallet_watchAsset") {
		t.Error("expected extra method to be reviewable")
	}
	if !c.Reviewable("personal_sign") {
		t.Error("expected built-in method to stay reviewable")
	}
	if c.Reviewable("wallet_getPermissions") {
		t.Error("extra list must not act as a wildcard")
	}
	var zero Classifier
	if zero.Reviewable("wallet_watchAsset") {
		t.Error("zero classifier must only use the built-in list")
	}
}

func TestRelayUnavailableIsUserRejected(t *testing.T) {
	if !errors.Is(ErrRelayUnavailable, ErrUserRejected) {
		t.Fatal("relay failure must look like a user rejection")
	}
	if errors.Is(ErrUserRejected, ErrRelayUnavailable) {
		t.Fatal("plain rejection must not match relay failure")
	}
	if errors.Is(ErrApprovalTimeout, ErrUserRejected) {
		t.Fatal("timeout must be a distinct failure")
	}
	wrapped := fmt.Errorf("forward: %w", ErrRelayUnavailable)
	if !errors.Is(wrapped, ErrUserRejected) {
		t.Fatal("wrapped relay failure must match user rejection")
	}
	if ErrRelayUnavailable.Code != CodeUserRejected {
		t.Fatalf("expected code 4001, got %d", ErrRelayUnavailable.Code)
	}
}

func TestAsProviderError(t *testing.T) {
	if AsProviderError(nil) != nil {
		t.Fatal("nil in, nil out")
	}
	pe := AsProviderError(errors.New("boom"))
	if pe.Code != CodeInternal || pe.Message != "boom" {
		t.Fatalf("unexpected conversion: %+v", pe)
	}
	if AsProviderError(fmt.Errorf("x: %w", ErrUserRejected)) != ErrUserRejected {
		t.Fatal("expected wrapped sentinel to be unwrapped")
	}
}

func TestSplitParams(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 0},
		{"null", 0},
		{"[]", 0},
		{`[{"from":"0xa"}]`, 1},
		{`["0xdead","0xbeef"]`, 2},
		{`{"chainId":"0x1"}`, 1},
	}
	for _, tt := range tests {
		got := SplitParams(json.RawMessage(tt.raw))
		if len(got) != tt.want {
			t.Errorf("SplitParams(%q) = %d args, want %d", tt.raw, len(got), tt.want)
		}
	}
}

func TestStatus(t *testing.T) {
	if StatusPending.Terminal() {
		t.Error("pending is not terminal")
	}
	if !StatusApproved.Terminal() || !StatusRejected.Terminal() {
		t.Error("approved and rejected are terminal")
	}
	if Status("consumed").Valid() {
		t.Error("unknown status must be invalid")
	}
	if StatusFor(true) != StatusApproved || StatusFor(false) != StatusRejected {
		t.Error("StatusFor mapping wrong")
	}
}

func TestValidate(t *testing.T) {
	ok := InterceptedCall{ID: "a", Method: "personal_sign", Status: StatusPending}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, bad := range []InterceptedCall{
		{Method: "personal_sign", Status: StatusPending},
		{ID: "a", Status: StatusPending},
		{ID: "a", Method: "personal_sign", Status: "weird"},
	} {
		if err := bad.Validate(); err == nil {
			t.Errorf("expected error for %+v", bad)
		}
	}
}
