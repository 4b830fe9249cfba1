package discovery

import (
	"strings"

	"github.com/dlclark/regexp2"

	"gdpr-guardian/internal/domain"
)

// Detection is a PII span inside a record's content. Offsets are rune
// offsets into the content.
type Detection struct {
	Kind       domain.PIIKind
	Value      string
	Start      int
	End        int
	Confidence float64
}

var (
	emailPattern = regexp2.MustCompile(`(?<![\w.%+-])[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}(?![\w-])`, regexp2.None)
	// A phone number must not be glued to other digits or to an email local part.
	phonePattern = regexp2.MustCompile(`(?<![\w@])\+?\d[\d\-. ]{7,}\d(?![\d@])`, regexp2.None)
)

var addressHints = []string{"street", "avenue", " ave", "road", " rd", " st ", "st.", "lane"}

// Detector finds email, phone and address PII in free text.
type Detector struct{}

// Detect returns all detections in content in match order.
func (Detector) Detect(content string) []Detection {
	var out []Detection
	out = append(out, findAll(emailPattern, content, domain.PIIEmail, 0.99)...)
	out = append(out, findAll(phonePattern, content, domain.PIIPhone, 0.9)...)

	low := strings.ToLower(content)
	for _, h := range addressHints {
		if strings.Contains(low, h) {
			out = append(out, Detection{Kind: domain.PIIAddress, Value: "<context>", Confidence: 0.6})
			break
		}
	}
	return out
}

func findAll(re *regexp2.Regexp, content string, kind domain.PIIKind, confidence float64) []Detection {
	var out []Detection
	m, err := re.FindStringMatch(content)
	for err == nil && m != nil {
		out = append(out, Detection{
			Kind:       kind,
			Value:      m.String(),
			Start:      m.Index,
			End:        m.Index + m.Length,
			Confidence: confidence,
		})
		m, err = re.FindNextMatch(m)
	}
	return out
}

// Mask renders a value the way it may appear in a disclosure when it
// belongs to someone other than the subject.
func Mask(kind domain.PIIKind, value string) string {
	switch kind {
	case domain.PIIEmail:
		local, host, ok := strings.Cut(value, "@")
		if !ok {
			return "***"
		}
		r := []rune(local)
		if len(r) > 2 {
			r = r[:2]
		}
		return string(r) + "***@" + host
	case domain.PIIPhone:
		r := []rune(value)
		if len(r) > 4 {
			r = r[len(r)-4:]
		}
		return "***" + string(r)
	default:
		return "[REDACTED]"
	}
}
