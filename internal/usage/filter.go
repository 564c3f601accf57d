package usage

import (
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPage       = 1
	DefaultPageSize   = 20
	MaxPageSize       = 100
	MaxDateRangeDays  = 365
	MaxExportRows     = 10000
	RetentionDays     = 90
	DefaultSortString = "createdAt:desc"
)

// Filter selects usage events. Empty fields do not constrain the result;
// set fields are AND-combined.
type Filter struct {
	RecordID   string
	RecordType RecordType
	EventTypes []EventType
	// Actor matches a substring of actorEmail or an exact actorId.
	Actor     string
	Recipient string
	Status    string
	From      *time.Time
	To        *time.Time
}

// Validate checks enum values and the date-range guard. Queries use it.
func (f Filter) Validate() error {
	if err := f.ValidateValues(); err != nil {
		return err
	}
	return f.validateRange()
}

// ValidateValues checks only the recordType and eventType values. Exports
// use it; their size is bounded by MaxExportRows instead of the date range.
func (f Filter) ValidateValues() error {
	if f.RecordType != "" && !f.RecordType.Valid() {
		return invalidf(ErrInvalidRecordType, "Invalid recordType: %s", f.RecordType)
	}
	if len(f.EventTypes) > 0 {
		var bad []string
		for _, e := range f.EventTypes {
			ok := false
			if f.RecordType != "" {
				ok = f.RecordType.Allows(e)
			} else {
				_, ok = RecordTypeOf(e)
			}
			if !ok {
				bad = append(bad, string(e))
			}
		}
		if len(bad) > 0 {
			scope := ""
			if f.RecordType != "" {
				scope = " for " + string(f.RecordType)
			}
			return invalidf(ErrInvalidEventType, "Invalid eventType(s)%s: %s", scope, strings.Join(bad, ","))
		}
	}
	return nil
}

func (f Filter) validateRange() error {
	if f.From != nil && f.To != nil {
		if f.To.Sub(*f.From) > MaxDateRangeDays*24*time.Hour {
			return invalid(ErrDateRangeTooLarge, "Date range too large; please narrow the window.")
		}
	}
	return nil
}

// Matches evaluates the filter predicate against a single event. Stores
// without a query language use it directly.
func (f Filter) Matches(e Event) bool {
	if f.RecordID != "" && e.RecordID != f.RecordID {
		return false
	}
	if f.RecordType != "" && e.RecordType != f.RecordType {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if e.EventType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Actor != "" && !containsFold(e.ActorEmail, f.Actor) && e.ActorID != f.Actor {
		return false
	}
	if f.Recipient != "" && !containsFold(e.RecipientEmail, f.Recipient) {
		return false
	}
	if f.Status != "" && !containsFold(e.Status, f.Status) {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows skipped before this page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// Normalize coerces out-of-range values to the nearest valid setting.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = DefaultPage
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// ParsePage reads page and pageSize query values permissively: anything
// unparsable falls back to the defaults.
func ParsePage(page, pageSize string) Page {
	p := Page{Number: DefaultPage, Size: DefaultPageSize}
	if n, err := strconv.Atoi(strings.TrimSpace(page)); err == nil {
		p.Number = n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(pageSize)); err == nil {
		p.Size = n
	}
	return p.Normalize()
}

// SortKey is a sortable column.
type SortKey string

const (
	SortCreatedAt SortKey = "createdAt"
	SortEventType SortKey = "eventType"
)

// Sort orders query results.
type Sort struct {
	Key  SortKey
	Desc bool
}

// DefaultSort is createdAt descending.
var DefaultSort = Sort{Key: SortCreatedAt, Desc: true}

// ParseSort parses "key:dir". Unknown keys fall back to createdAt and any
// direction other than "asc" means descending.
func ParseSort(s string) Sort {
	if strings.TrimSpace(s) == "" {
		return DefaultSort
	}
	key, dir, _ := strings.Cut(s, ":")
	out := Sort{Key: SortKey(key), Desc: dir != "asc"}
	if out.Key != SortCreatedAt && out.Key != SortEventType {
		out.Key = SortCreatedAt
	}
	return out
}

func (s Sort) String() string {
	dir := "desc"
	if !s.Desc {
		dir = "asc"
	}
	key := s.Key
	if key == "" {
		key = SortCreatedAt
	}
	return string(key) + ":" + dir
}
