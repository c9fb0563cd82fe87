package txwatchv1

import (
	"encoding/json"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/txwatch/internal/model"
)

func TestCallRoundTripKeepsParamsExact(t *testing.T) {
	call := model.InterceptedCall{
		ID:        "c1",
		Method:    model.MethodSendTransaction,
		Params:    []json.RawMessage{json.RawMessage(`{"value":"0x1","chainId":123456789012345678901}`)},
		Origin:    "https://dapp.example",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
		Status:    model.StatusPending,
		TabID:     "ctx-1",
	}
	got, err := CallFromStruct(CallToStruct(call))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got.Params[0]) != string(call.Params[0]) {
		t.Errorf("params: got %s, want %s", got.Params[0], call.Params[0])
	}
	if !got.Timestamp.Equal(call.Timestamp) || got.TabID != "ctx-1" || got.Status != model.StatusPending {
		t.Errorf("call: %+v", got)
	}
}

func TestCallFromStructRejectsInvalid(t *testing.T) {
	bad := CallToStruct(model.InterceptedCall{ID: "c1", Method: "m", Status: model.StatusPending})
	bad.Fields["params"] = structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{structpb.NewStringValue("{nope")}})
	if _, err := CallFromStruct(bad); err == nil {
		t.Error("expected invalid param error")
	}
	if _, err := CallFromStruct(&structpb.Struct{}); err == nil {
		t.Error("expected validation error for empty call")
	}
}

func TestParseDecideRequest(t *testing.T) {
	id, approved, err := ParseDecideRequest(DecideRequest("c9", true))
	if err != nil || id != "c9" || !approved {
		t.Fatalf("got id=%s approved=%v err=%v", id, approved, err)
	}
	missing := &structpb.Struct{Fields: map[string]*structpb.Value{"id": structpb.NewStringValue("c9")}}
	if _, _, err := ParseDecideRequest(missing); err == nil {
		t.Error("missing approved should fail")
	}
	wrongType := DecideRequest("c9", true)
	wrongType.Fields["approved"] = structpb.NewStringValue("yes")
	if _, _, err := ParseDecideRequest(wrongType); err == nil {
		t.Error("non-boolean approved should fail")
	}
	if _, _, err := ParseDecideRequest(DecideRequest("", true)); err == nil {
		t.Error("empty id should fail")
	}
}
