package remote

import (
	"strconv"
	"strings"
)

// Response is the envelope every stored procedure returns.
type Response struct {
	Failure    int         `json:"failure"`
	Errors     []string    `json:"errors,omitempty"`
	Message    string      `json:"message,omitempty"`
	ResultSets []ResultSet `json:"resultSets"`
}

// ResultSet is one table of a response.
type ResultSet struct {
	Data []Row `json:"data"`
}

// Row is one result row. Column names may arrive camelCase or PascalCase.
type Row map[string]any

// Get returns the column value, trying the name as given and with its first
// letter's case flipped.
func (r Row) Get(name string) (any, bool) {
	if r == nil || name == "" {
		return nil, false
	}
	if v, ok := r[name]; ok {
		return v, true
	}
	alt := flipFirst(name)
	v, ok := r[alt]
	return v, ok
}

// String returns the column as a string; numbers are formatted, null is "".
func (r Row) String(name string) string {
	v, _ := r.Get(name)
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// Bool returns the column as a bool.
func (r Row) Bool(name string) bool {
	v, _ := r.Get(name)
	b, _ := v.(bool)
	return b
}

func flipFirst(s string) string {
	first := s[:1]
	if up := strings.ToUpper(first); up != first {
		return up + s[1:]
	}
	return strings.ToLower(first) + s[1:]
}

// Row returns row idx of result set set, or nil.
func (r *Response) Row(set, idx int) Row {
	if r == nil || set < 0 || set >= len(r.ResultSets) {
		return nil
	}
	data := r.ResultSets[set].Data
	if idx < 0 || idx >= len(data) {
		return nil
	}
	return data[idx]
}

// NextToken returns the rotated request token carried in the first result
// set, if any.
func (r *Response) NextToken() string {
	return r.Row(0, 0).String("nextRequestToken")
}

// primaryMessage picks the most specific human-readable failure message.
func (r *Response) primaryMessage() string {
	for _, e := range r.Errors {
		if e = strings.TrimSpace(e); e != "" {
			return e
		}
	}
	if r.Message != "" {
		return r.Message
	}
	if msg := r.Row(0, 0).String("message"); msg != "" {
		return msg
	}
	return "Request failed"
}
