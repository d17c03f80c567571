package mapping

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind is the inferred content type of a column.
type Kind string

const (
	KindEmail      Kind = "email"
	KindNationalID Kind = "national_id"
	KindPhone      Kind = "phone"
	KindDate       Kind = "date"
	KindImage      Kind = "image"
	KindCode       Kind = "code"
	KindNameLike   Kind = "name_like"
	KindAddress    Kind = "address"
	KindNumber     Kind = "number"
	KindBoolean    Kind = "boolean"
	KindText       Kind = "text"
)

// kindSampleSize is how many leading values InferKind looks at.
const kindSampleSize = 200

var (
	emailRe      = regexp.MustCompile(`.+@.+\..+`)
	nationalIDRe = regexp.MustCompile(`^\d{10}$`)
	phoneRe      = regexp.MustCompile(`^(\+?\d{8,15}|0\d{9,11})$`)
	dateRe       = regexp.MustCompile(`^\d{4}[/\-.]\d{1,2}[/\-.]\d{1,2}$`)
	imageExtRe   = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|webp)$`)
	urlRe        = regexp.MustCompile(`(?i)^https?://`)
	codeRe       = regexp.MustCompile(`^[A-Za-z0-9\-_/]+$`)
	nameRe       = regexp.MustCompile(`^[\p{L}\s'-]{2,24}$`)
	digitRe      = regexp.MustCompile(`\d`)
	addressRe    = regexp.MustCompile(`[\p{L}\d\s\-/]+`)
	addressNotRe = regexp.MustCompile(`@|\d{10}`)
	booleanRe    = regexp.MustCompile(`(?i)^(true|false|yes|no|1|0)$`)
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"01/02/2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// kindRule is checked in order; the first rule whose share of matching
// values exceeds its threshold wins.
type kindRule struct {
	kind      Kind
	threshold float64
	match     func(string) bool
}

var kindRules = []kindRule{
	{KindEmail, 0.6, emailRe.MatchString},
	{KindNationalID, 0.6, nationalIDRe.MatchString},
	{KindPhone, 0.6, phoneRe.MatchString},
	{KindDate, 0.6, isDate},
	{KindImage, 0.5, func(v string) bool { return imageExtRe.MatchString(v) || urlRe.MatchString(v) }},
	{KindCode, 0.6, func(v string) bool { return codeRe.MatchString(v) && len(v) <= 20 }},
	{KindNameLike, 0.5, func(v string) bool {
		return nameRe.MatchString(v) && !strings.Contains(v, "@") && !digitRe.MatchString(v)
	}},
	{KindAddress, 0.5, func(v string) bool {
		return utf8.RuneCountInString(v) > 20 && addressRe.MatchString(v) && !addressNotRe.MatchString(v)
	}},
	{KindNumber, 0.7, isNumber},
	{KindBoolean, 0.8, booleanRe.MatchString},
}

// InferKind guesses what a column holds from its first values. Shares are
// taken over every sampled value, blanks included, so sparse columns lean
// towards KindText.
func InferKind(values []string) Kind {
	if len(values) > kindSampleSize {
		values = values[:kindSampleSize]
	}
	if len(values) == 0 {
		return KindText
	}

	notEmpty := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			notEmpty = append(notEmpty, v)
		}
	}

	for _, rule := range kindRules {
		n := 0
		for _, v := range notEmpty {
			if rule.match(v) {
				n++
			}
		}
		if float64(n)/float64(len(values)) > rule.threshold {
			return rule.kind
		}
	}
	return KindText
}

func isDate(v string) bool {
	if dateRe.MatchString(v) {
		return true
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

func isNumber(v string) bool {
	f, err := strconv.ParseFloat(v, 64)
	return err == nil && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// kindFields lists the backend fields a column of each kind is likely to feed.
var kindFields = map[Kind][]string{
	KindEmail:      {"email"},
	KindNationalID: {"national_id"},
	KindPhone:      {"mobile_phone", "phone", "tel"},
	KindDate:       {"birth_date", "created_at", "issue_date", "effective_employee_date", "effective_marital_date", "service_start_date", "service_end_date"},
	KindImage:      {"personal_photo", "national_id_image", "birth_certificate_image", "image", "avatar"},
	KindCode:       {"personnel_code", "employee_code", "work_id_code", "postal_code"},
	KindNameLike:   {"first_name", "last_name", "full_name", "name"},
	KindAddress:    {"address", "residence", "location"},
	KindNumber:     {"age", "salary", "experience_years", "children_count"},
	KindBoolean:    {"is_active", "is_married", "has_children"},
	KindText:       {"city", "position", "role", "religion", "sect", "citizenship", "nationality", "gender", "marital_status"},
}
