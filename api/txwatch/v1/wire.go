package txwatchv1

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/txwatch/internal/model"
)

// Params travel as JSON text so numbers keep their exact encoding.

// CallToStruct encodes call.
func CallToStruct(call model.InterceptedCall) *structpb.Struct {
	params := make([]*structpb.Value, len(call.Params))
	for i, p := range call.Params {
		params[i] = structpb.NewStringValue(string(p))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":        structpb.NewStringValue(call.ID),
		"method":    structpb.NewStringValue(call.Method),
		"params":    structpb.NewListValue(&structpb.ListValue{Values: params}),
		"origin":    structpb.NewStringValue(call.Origin),
		"timestamp": structpb.NewStringValue(call.Timestamp.UTC().Format(time.RFC3339Nano)),
		"status":    structpb.NewStringValue(string(call.Status)),
		"tab_id":    structpb.NewStringValue(call.TabID),
		"reason":    structpb.NewStringValue(call.Reason),
	}}
}

// CallFromStruct decodes a call produced by CallToStruct.
func CallFromStruct(s *structpb.Struct) (model.InterceptedCall, error) {
	f := s.GetFields()
	str := func(k string) string { return f[k].GetStringValue() }
	call := model.InterceptedCall{
		ID:     str("id"),
		Method: str("method"),
		Origin: str("origin"),
		Status: model.Status(str("status")),
		TabID:  str("tab_id"),
		Reason: str("reason"),
	}
	if ts := str("timestamp"); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return model.InterceptedCall{}, fmt.Errorf("call %s: bad timestamp: %w", call.ID, err)
		}
		call.Timestamp = t
	}
	for _, v := range f["params"].GetListValue().GetValues() {
		p := v.GetStringValue()
		if !json.Valid([]byte(p)) {
			return model.InterceptedCall{}, fmt.Errorf("call %s: param is not valid JSON", call.ID)
		}
		call.Params = append(call.Params, json.RawMessage(p))
	}
	if err := call.Validate(); err != nil {
		return model.InterceptedCall{}, err
	}
	return call, nil
}

// CallsToStruct encodes a list as {"calls": [...]}.
func CallsToStruct(calls []model.InterceptedCall) *structpb.Struct {
	vals := make([]*structpb.Value, len(calls))
	for i, c := range calls {
		vals[i] = structpb.NewStructValue(CallToStruct(c))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"calls": structpb.NewListValue(&structpb.ListValue{Values: vals}),
	}}
}

// CallsFromStruct decodes {"calls": [...]}.
func CallsFromStruct(s *structpb.Struct) ([]model.InterceptedCall, error) {
	vals := s.GetFields()["calls"].GetListValue().GetValues()
	out := make([]model.InterceptedCall, 0, len(vals))
	for _, v := range vals {
		c, err := CallFromStruct(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// DecideRequest encodes a decision request.
func DecideRequest(id string, approved bool) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":       structpb.NewStringValue(id),
		"approved": structpb.NewBoolValue(approved),
	}}
}

// ParseDecideRequest decodes a decision request. approved must be present.
func ParseDecideRequest(s *structpb.Struct) (id string, approved bool, err error) {
	f := s.GetFields()
	id = f["id"].GetStringValue()
	if id == "" {
		return "", false, fmt.Errorf("id is required")
	}
	v, ok := f["approved"]
	if !ok {
		return "", false, fmt.Errorf("approved is required")
	}
	if _, isBool := v.GetKind().(*structpb.Value_BoolValue); !isBool {
		return "", false, fmt.Errorf("approved must be a boolean")
	}
	return id, v.GetBoolValue(), nil
}
