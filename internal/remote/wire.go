package remote

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/booru-tag-crawler/internal/booru"
)

type postJSON struct {
	ID        int64     `json:"id"`
	Tags      string    `json:"tags"`
	CreatedAt timestamp `json:"created_at"`
	MD5       string    `json:"md5"`
	FileURL   string    `json:"file_url"`
	Author    string    `json:"author"`
}

type tagJSON struct {
	Name    string `json:"name"`
	TagType *int   `json:"tag_type"`
	Type    *int   `json:"type"`
}

func (t tagJSON) kind() booru.TagType {
	switch {
	case t.TagType != nil:
		return booru.TagType(*t.TagType)
	case t.Type != nil:
		return booru.TagType(*t.Type)
	default:
		return booru.TagTypeGeneral
	}
}

// timestamp accepts the shapes booru engines use for created_at: unix
// seconds, a formatted string, or a {"s": seconds} object. Unparseable values
// decode to the zero time rather than failing the page.
type timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RubyDate,
	time.UnixDate,
}

func (ts *timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		ts.Time = time.Time{}
		return nil
	}
	switch data[0] {
	case '{':
		var obj struct {
			S int64 `json:"s"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil
		}
		ts.Time = time.Unix(obj.S, 0).UTC()
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		ts.Time = parseTimestamp(s)
	default:
		ts.Time = parseTimestamp(string(data))
	}
	return nil
}

func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Unix(int64(secs), 0).UTC()
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
