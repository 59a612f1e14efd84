package watch

import (
	"encoding/json"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/mattjoyce/partforge/internal/api"
	"github.com/mattjoyce/partforge/internal/dispatch"
)

// callRecord is one completed call envelope off the event stream.
type callRecord struct {
	RequestID string
	Outcome   string
	Detail    string
	At        time.Time
}

const maxCallLog = 100

// parseCall extracts the display fields from a completed call envelope.
func parseCall(e api.Event) callRecord {
	rec := callRecord{RequestID: "?", Outcome: e.Call.Type, At: e.At}

	if e.Call.RequestID != "" {
		rec.RequestID = e.Call.RequestID
	}

	switch {
	case e.Call.Error != "":
		rec.Detail = e.Call.Error
	case e.Call.Result != nil:
		if b, err := json.Marshal(e.Call.Result); err == nil {
			rec.Detail = string(b)
		}
	}
	if len(rec.Detail) > 60 {
		rec.Detail = rec.Detail[:60] + "..."
	}
	return rec
}

func callColumns() []table.Column {
	return []table.Column{
		{Title: "ST", Width: 2},
		{Title: "Time", Width: 8},
		{Title: "Request", Width: 20},
		{Title: "Detail", Width: 62},
	}
}

func callRows(calls []callRecord, theme Theme) []table.Row {
	rows := make([]table.Row, 0, len(calls))
	for _, c := range calls {
		sym := theme.StatusOK.Render("●")
		if c.Outcome == dispatch.TypeError {
			sym = theme.StatusFailed.Render("∅")
		}
		rows = append(rows, table.Row{
			sym,
			c.At.Format("15:04:05"),
			c.RequestID,
			c.Detail,
		})
	}
	return rows
}
