package roster

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"

	"github.com/mind-engage/quizhub/internal/apperr"
)

// ParseRoster accepts a JSON array of emails, a CSV with an "email" column
// (and optional "name" column), or free text separated by newlines, commas
// or semicolons.
func ParseRoster(body string) ([]Entry, error) {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "[") {
		var emails []string
		if err := json.Unmarshal([]byte(trimmed), &emails); err != nil {
			return nil, apperr.Invalid("roster must be a JSON array of strings")
		}
		return entries(emails), nil
	}
	first, _, _ := strings.Cut(trimmed, "\n")
	if hasHeader(first) {
		return parseCSV(trimmed)
	}
	fields := strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == '\n' || r == '\r' || r == ',' || r == ';'
	})
	return entries(fields), nil
}

func entries(emails []string) []Entry {
	out := make([]Entry, len(emails))
	for i, e := range emails {
		out[i] = Entry{Email: e}
	}
	return out
}

func hasHeader(line string) bool {
	for _, h := range strings.Split(line, ",") {
		if strings.EqualFold(strings.TrimSpace(h), "email") {
			return true
		}
	}
	return false
}

func parseCSV(body string) ([]Entry, error) {
	r := csv.NewReader(strings.NewReader(body))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return nil, apperr.Invalid("unreadable CSV header")
	}
	emailCol, nameCol := -1, -1
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case h == "email" && emailCol < 0:
			emailCol = i
		case strings.Contains(h, "name") && nameCol < 0:
			nameCol = i
		}
	}
	if emailCol < 0 {
		return nil, apperr.Invalid("CSV must have an email column")
	}
	var out []Entry
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperr.Invalid("malformed CSV: %v", err)
		}
		e := Entry{}
		if emailCol < len(rec) {
			e.Email = rec[emailCol]
		}
		if nameCol >= 0 && nameCol < len(rec) {
			e.Name = strings.TrimSpace(rec[nameCol])
		}
		out = append(out, e)
	}
	return out, nil
}
