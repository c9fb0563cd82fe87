package coordinator

import "strconv"

// Indicator colors.
const (
	ColorPending = "#F59E0B"
	ColorHistory = "#EF4444"
)

// Badge is the short label summarizing outstanding work.
type Badge struct {
	Text  string `json:"text"`
	Color string `json:"color,omitempty"`
}

// Empty reports whether nothing should be shown.
func (b Badge) Empty() bool { return b.Text == "" }

// BadgeFor derives the indicator. Pending work takes priority over history.
func BadgeFor(pending, history int) Badge {
	switch {
	case pending > 0:
		return Badge{Text: strconv.Itoa(pending), Color: ColorPending}
	case history > 0:
		return Badge{Text: strconv.Itoa(history), Color: ColorHistory}
	}
	return Badge{}
}
