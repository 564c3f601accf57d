package usage

import (
	"bufio"
	"io"
	"strings"
	"time"
)

// CSVColumns is the fixed export column set.
var CSVColumns = []string{
	"id",
	"recordId",
	"recordType",
	"eventType",
	"actorId",
	"actorEmail",
	"recipientEmail",
	"status",
	"source",
	"createdAt",
	"ingestedAt",
}

// WriteCSV writes a header row and one row per event. Every field is quoted,
// with embedded quotes doubled; rows are separated by "\n".
func WriteCSV(w io.Writer, events []Event) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(strings.Join(CSVColumns, ",")); err != nil {
		return err
	}
	for _, e := range events {
		fields := []string{
			e.ID,
			e.RecordID,
			string(e.RecordType),
			string(e.EventType),
			e.ActorID,
			e.ActorEmail,
			e.RecipientEmail,
			e.Status,
			e.Source,
			formatTime(e.CreatedAt),
			formatTime(e.IngestedAt),
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
		for i, f := range fields {
			if i > 0 {
				if err := bw.WriteByte(','); err != nil {
					return err
				}
			}
			if _, err := bw.WriteString(quote(f)); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
