package gateway

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Summary holds the counters of a bulk-import response.
type Summary struct {
	Inserted     int64 `json:"inserted"`
	Updated      int64 `json:"updated"`
	Failed       int64 `json:"failed"`
	Deficiencies int64 `json:"deficiencies_total"`
	ReportRows   int   `json:"report_rows"`
}

// Summarize extracts the counters from a bulk-import response body. ok is
// false when the body is not a JSON object, e.g. an HTML error page from a
// proxy in front of the backend.
func Summarize(body []byte) (s Summary, ok bool) {
	if !gjson.ValidBytes(body) {
		return Summary{}, false
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return Summary{}, false
	}

	return Summary{
		Inserted:     doc.Get("inserted").Int(),
		Updated:      doc.Get("updated").Int(),
		Failed:       doc.Get("failed").Int(),
		Deficiencies: doc.Get("deficiencies_total").Int(),
		ReportRows:   len(doc.Get("report").Array()),
	}, true
}

func (s Summary) String() string {
	return fmt.Sprintf("inserted=%d updated=%d failed=%d deficiencies=%d",
		s.Inserted, s.Updated, s.Failed, s.Deficiencies)
}

// ErrorMessage returns the backend's error text from a failure body. FastAPI
// style {"detail": ...} and {"error": ...} are both understood.
func ErrorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range []string{"error", "detail", "message"} {
		v := gjson.GetBytes(body, path)
		if !v.Exists() {
			continue
		}
		if v.IsArray() {
			// Pydantic validation errors: [{"loc": [...], "msg": "..."}].
			if msg := v.Get("0.msg").String(); msg != "" {
				return msg
			}
			continue
		}
		if s := v.String(); s != "" {
			return s
		}
	}
	return ""
}
