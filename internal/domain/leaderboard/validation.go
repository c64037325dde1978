package leaderboard

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Field limits for incoming records.
const (
	MaxPubkeyLength        = 64
	MaxNameLength          = 128
	MaxTwitterHandleLength = 64
)

// Query defaults and bounds.
const (
	DefaultLimit = 50
	MinLimit     = 1
	MaxLimit     = 100
	filterAll    = "all"
)

// ValidateBatch checks every record in a batch and returns a *ValidationError
// listing all violations, or nil. maxSize <= 0 disables the size cap.
func ValidateBatch(records []StatRecord, maxSize int) error {
	var vs []Violation
	if len(records) == 0 {
		vs = append(vs, Violation{Index: -1, Field: "records", Message: "batch must not be empty"})
	}
	if maxSize > 0 && len(records) > maxSize {
		vs = append(vs, Violation{Index: -1, Field: "records",
			Message: fmt.Sprintf("batch has %d records; at most %d allowed", len(records), maxSize)})
	}

	seen := make(map[Key]int, len(records))
	for i, r := range records {
		vs = append(vs, validateRecord(i, r)...)
		if r.Type.Valid() && strings.TrimSpace(r.Pubkey) != "" {
			if first, dup := seen[r.Key()]; dup {
				vs = append(vs, Violation{Index: i, Field: "pubkey",
					Message: fmt.Sprintf("duplicate of records[%d] (same type and pubkey)", first)})
			} else {
				seen[r.Key()] = i
			}
		}
	}

	if len(vs) > 0 {
		return &ValidationError{Violations: vs}
	}
	return nil
}

func validateRecord(i int, r StatRecord) []Violation {
	var vs []Violation
	add := func(field, msg string) {
		vs = append(vs, Violation{Index: i, Field: field, Message: msg})
	}

	if !r.Type.Valid() {
		add("type", fmt.Sprintf("must be one of squad, member (got %q)", r.Type))
	}
	switch pk := strings.TrimSpace(r.Pubkey); {
	case pk == "":
		add("pubkey", "must not be empty")
	case pk != r.Pubkey:
		add("pubkey", "must not have leading or trailing whitespace")
	case utf8.RuneCountInString(pk) > MaxPubkeyLength:
		add("pubkey", fmt.Sprintf("must be at most %d characters", MaxPubkeyLength))
	}
	switch name := strings.TrimSpace(r.Name); {
	case name == "":
		add("name", "must not be empty")
	case utf8.RuneCountInString(r.Name) > MaxNameLength:
		add("name", fmt.Sprintf("must be at most %d characters", MaxNameLength))
	}
	if r.TotalStaked < 0 {
		add("total_staked", "must be >= 0")
	}
	if r.MemberCount != nil {
		if r.Type == TypeMember {
			add("member_count", "only allowed on squad records")
		} else if *r.MemberCount < 0 {
			add("member_count", "must be >= 0")
		}
	}
	if r.TwitterHandle != nil && utf8.RuneCountInString(*r.TwitterHandle) > MaxTwitterHandleLength {
		add("twitter_handle", fmt.Sprintf("must be at most %d characters", MaxTwitterHandleLength))
	}
	return vs
}

// QueryParams carries the raw, unparsed read parameters.
type QueryParams struct {
	Type   string
	Limit  string
	Offset string
}

// QueryLimits configures ParseQuery. Zero values fall back to the package defaults.
type QueryLimits struct {
	DefaultLimit int
	MaxLimit     int
}

func (l QueryLimits) normalized() QueryLimits {
	if l.MaxLimit < MinLimit || l.MaxLimit > MaxLimit {
		l.MaxLimit = MaxLimit
	}
	if l.DefaultLimit < MinLimit || l.DefaultLimit > l.MaxLimit {
		l.DefaultLimit = min(DefaultLimit, l.MaxLimit)
	}
	return l
}

// ParseQuery validates raw read parameters. Empty values take their defaults.
// Every violated constraint is reported.
func ParseQuery(p QueryParams, limits QueryLimits) (Query, error) {
	limits = limits.normalized()
	q := Query{Limit: limits.DefaultLimit}
	var vs []Violation

	switch t := strings.ToLower(strings.TrimSpace(p.Type)); t {
	case "", filterAll:
	case string(TypeSquad), string(TypeMember):
		q.Filter = Filter{Type: EntryType(t)}
	default:
		vs = append(vs, Violation{Index: -1, Field: "type",
			Message: fmt.Sprintf("must be one of squad, member, all (got %q)", p.Type)})
	}

	if s := strings.TrimSpace(p.Limit); s != "" {
		n, err := strconv.Atoi(s)
		switch {
		case err != nil:
			vs = append(vs, Violation{Index: -1, Field: "limit", Message: fmt.Sprintf("must be an integer (got %q)", p.Limit)})
		case n < MinLimit || n > limits.MaxLimit:
			vs = append(vs, Violation{Index: -1, Field: "limit",
				Message: fmt.Sprintf("must be between %d and %d (got %d)", MinLimit, limits.MaxLimit, n)})
		default:
			q.Limit = n
		}
	}

	if s := strings.TrimSpace(p.Offset); s != "" {
		n, err := strconv.Atoi(s)
		switch {
		case err != nil:
			vs = append(vs, Violation{Index: -1, Field: "offset", Message: fmt.Sprintf("must be an integer (got %q)", p.Offset)})
		case n < 0:
			vs = append(vs, Violation{Index: -1, Field: "offset", Message: fmt.Sprintf("must be >= 0 (got %d)", n)})
		default:
			q.Offset = n
		}
	}

	if len(vs) > 0 {
		return Query{}, &ValidationError{Violations: vs}
	}
	return q, nil
}

// ParseType parses a single entry type (no "all").
func ParseType(s string) (EntryType, error) {
	t := EntryType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", &ValidationError{Violations: []Violation{{Index: -1, Field: "type",
			Message: fmt.Sprintf("must be one of squad, member (got %q)", s)}}}
	}
	return t, nil
}
