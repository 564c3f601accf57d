package usage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCSV(t *testing.T) {
	events := []Event{
		{
			ID:             "id-1",
			RecordID:       `say "hi", world`,
			RecordType:     RecordEmail,
			EventType:      EventEmailSent,
			RecipientEmail: "user@example.com",
			Status:         "queued",
			Source:         "api",
			CreatedAt:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			IngestedAt:     time.Date(2024, 1, 2, 3, 4, 6, 500000000, time.UTC),
		},
	}

	var sb strings.Builder
	require.NoError(t, WriteCSV(&sb, events))

	lines := strings.Split(sb.String(), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id,recordId,recordType,eventType,actorId,actorEmail,recipientEmail,status,source,createdAt,ingestedAt", lines[0])
	assert.Equal(t,
		`"id-1","say ""hi"", world","email","email_sent","","","user@example.com","queued","api","2024-01-02T03:04:05Z","2024-01-02T03:04:06.5Z"`,
		lines[1])
}

func TestWriteCSV_HeaderOnly(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, WriteCSV(&sb, nil))
	assert.Equal(t, strings.Join(CSVColumns, ","), sb.String())
}
