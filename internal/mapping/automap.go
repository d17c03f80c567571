package mapping

import (
	"slices"
	"strings"

	"github.com/sarir/personnel-import/internal/tabular"
)

// Mapping maps a file header to a backend field. An empty value means the
// header is not imported.
type Mapping map[string]string

// Targets returns the distinct non-empty backend fields in the mapping.
func (m Mapping) Targets() map[string]bool {
	out := make(map[string]bool, len(m))
	for _, f := range m {
		if f != "" {
			out[f] = true
		}
	}
	return out
}

// Compact returns a copy without unmapped headers.
func (m Mapping) Compact() Mapping {
	out := make(Mapping, len(m))
	for h, f := range m {
		if f != "" {
			out[h] = f
		}
	}
	return out
}

// MinScore is the lowest score AutoMap accepts for an assignment.
const MinScore = 7

// synonyms lists header spellings, Persian and English, seen for common
// personnel fields. Entries are compared after Norm.
var synonyms = map[string][]string{
	"national_id_image":       {"تصویر_کارت_ملی", "کارت_ملی", "national_id_image", "national_card_image", "id_card_image", "تصویر_کارت", "id_image", "nat_id_img"},
	"birth_certificate_image": {"شناسنامه", "تصویر_شناسنامه", "birth_certificate_image", "shenasnameh_image", "birth_cert_image", "birth_id_image", "birth_cert"},
	"personal_photo":          {"عکس", "عکس_پرسنلی", "photo", "avatar", "personal_photo", "image", "portrait", "profile_pic", "pers_photo"},
	"national_id":             {"کد_ملی", "کدملی", "national_id", "nat_id", "id_number", "national_code", "nat_code"},
	"personnel_code":          {"کد_پرسنلی", "personnel_code", "emp_code", "employee_code", "staff_id", "personnel_id", "pers_code"},
	"first_name":              {"نام", "first_name", "firstname", "given_name", "f_name", "fname"},
	"last_name":               {"نام_خانوادگی", "last_name", "family", "lastname", "surname", "l_name", "lname"},
	"full_name":               {"نام_کامل", "full_name", "name", "complete_name", "fullname"},
	"email":                   {"ایمیل", "email", "mail", "e-mail", "email_address", "e_mail"},
	"mobile_phone":            {"موبایل", "تلفن", "شماره", "mobile", "phone", "cell", "tel", "mobile_number", "phone_number"},
	"position":                {"سمت", "position", "role", "title", "job_title", "job_position", "job_role"},
	"birth_date":              {"تاریخ_تولد", "birth_date", "dob", "تولد", "birthdate", "date_of_birth", "bdate"},
	"created_at":              {"تاریخ_ایجاد", "created_at", "createdon", "creation_date", "create_date", "created"},
	"address":                 {"آدرس", "address", "location", "residence", "home_address", "addr"},
	"city":                    {"شهر", "city", "town", "province", "cty"},
	"postal_code":             {"کد_پستی", "postal_code", "zip_code", "post_code"},
	"gender":                  {"جنسیت", "gender", "sex"},
	"marital_status":          {"وضعیت_تاهل", "marital_status", "marriage_status"},
}

// scorer caches per-header kinds for one AutoMap run.
type scorer struct {
	kinds map[string]Kind
}

func newScorer(headers []string, rows []tabular.Row) *scorer {
	s := &scorer{kinds: make(map[string]Kind, len(headers))}
	for _, h := range headers {
		n := min(len(rows), kindSampleSize)
		values := make([]string, 0, n)
		for _, r := range rows[:n] {
			values = append(values, tabular.CellString(r[h]))
		}
		s.kinds[h] = InferKind(values)
	}
	return s
}

// Score rates how well header fits field. Exact match, containment, small
// edit distance, a synonym hit and a matching content kind all add up.
func (s *scorer) Score(header, field string) int {
	h := Norm(header)
	f := Norm(field)

	score := 0
	if h == f {
		score += 15
	}
	if strings.Contains(h, f) || strings.Contains(f, h) {
		score += 6
	}
	if d := Levenshtein(h, f); d <= 3 {
		score += 10 - d
	}
	for target, keys := range synonyms {
		if Norm(target) != f {
			continue
		}
		for _, k := range keys {
			k = Norm(k)
			if strings.Contains(h, k) || Levenshtein(h, k) <= 3 {
				score += 12
				break
			}
		}
	}
	for _, candidate := range kindFields[s.kinds[header]] {
		if Norm(candidate) == f {
			score += 8
			break
		}
	}
	return score
}

func (s *scorer) best(header string, fields []string) int {
	top := 0
	for _, f := range fields {
		top = max(top, s.Score(header, f))
	}
	return top
}

// AutoMap proposes a mapping from headers to fields. Headers with the most
// confident best match pick first; every field is assigned at most once and
// only when it scores at least MinScore. Every header appears in the result,
// mapped to "" when nothing fit.
func AutoMap(headers []string, rows []tabular.Row, fields []string) Mapping {
	s := newScorer(headers, rows)

	order := slices.Clone(headers)
	bestOf := make(map[string]int, len(order))
	for _, h := range order {
		bestOf[h] = s.best(h, fields)
	}
	slices.SortStableFunc(order, func(a, b string) int {
		return bestOf[b] - bestOf[a]
	})

	m := make(Mapping, len(headers))
	assigned := make(map[string]bool, len(fields))
	for _, h := range order {
		bestField, bestScore := "", -1
		for _, f := range fields {
			if assigned[f] {
				continue
			}
			if sc := s.Score(h, f); sc > bestScore {
				bestField, bestScore = f, sc
			}
		}
		if bestField != "" && bestScore >= MinScore {
			m[h] = bestField
			assigned[bestField] = true
		} else {
			m[h] = ""
		}
	}
	return m
}
