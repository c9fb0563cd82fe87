package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for format.
func FormatPayload(format string, event Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return json.Marshal(event)
	}
}

func formatSlack(event Event) ([]byte, error) {
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Method:* %s", event.Method)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Origin:* %s", event.Origin)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Call:* %s", event.CallID)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Pending:* %d", event.Pending)},
	}
	if event.Reason != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)})
	}
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("txwatch: %s", event.Event),
				},
			},
			map[string]any{"type": "section", "fields": fields},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event Event) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"dedup_key":    event.CallID,
		"payload": map[string]any{
			"summary":  fmt.Sprintf("txwatch %s: %s from %s", event.Event, event.Method, event.Origin),
			"severity": severityFor(event.Event),
			"source":   "txwatch",
			"custom_details": map[string]any{
				"call_id": event.CallID,
				"method":  event.Method,
				"origin":  event.Origin,
				"tab_id":  event.TabID,
				"reason":  event.Reason,
				"pending": event.Pending,
			},
		},
	}
	return json.Marshal(payload)
}

func severityFor(event string) string {
	switch event {
	case "expired":
		return "error"
	case "pending":
		return "warning"
	default:
		return "info"
	}
}
