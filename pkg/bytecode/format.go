package bytecode

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// formatWithPattern implements `format <expr> as "<pattern>"` per §4.4:
// date patterns MM/dd/yyyy, dd/MM/yyyy, MMM dd, yyyy, long; decimal
// patterns 0.00, #,##0.00, $0.00; int patterns #,##0, 0000, hex.
func formatWithPattern(v Value, pattern string) string {
	switch v.Kind {
	case VDate:
		return formatDatePattern(v.Text, pattern)
	case VDecimal:
		return formatDecimalPattern(v.Scaled, pattern)
	case VInt:
		return formatIntPattern(v.Int, pattern)
	default:
		return v.Display()
	}
}

func formatDatePattern(iso, pattern string) string {
	t, err := time.Parse("2006-01-02", iso)
	if err != nil {
		return iso
	}
	switch pattern {
	case "MM/dd/yyyy":
		return t.Format("01/02/2006")
	case "dd/MM/yyyy":
		return t.Format("02/01/2006")
	case "MMM dd, yyyy":
		return t.Format("Jan 02, 2006")
	case "long":
		return t.Format("Monday, January 2, 2006")
	default:
		return iso
	}
}

func formatDecimalPattern(scaled int64, pattern string) string {
	neg := scaled < 0
	if neg {
		scaled = -scaled
	}
	whole, frac := scaled/100, scaled%100

	switch pattern {
	case "0.00":
		s := fmt.Sprintf("%d.%02d", whole, frac)
		return signPrefix(neg) + s
	case "#,##0.00":
		s := groupThousands(whole) + fmt.Sprintf(".%02d", frac)
		return signPrefix(neg) + s
	case "$0.00":
		s := fmt.Sprintf("$%d.%02d", whole, frac)
		return signPrefix(neg) + s
	default:
		return signPrefix(neg) + formatScaled(scaled) // unknown pattern falls back to default display
	}
}

func formatIntPattern(n int32, pattern string) string {
	neg := n < 0
	if neg {
		n = -n
	}
	switch pattern {
	case "#,##0":
		return signPrefix(neg) + groupThousands(int64(n))
	case "0000":
		return signPrefix(neg) + fmt.Sprintf("%04d", n)
	case "hex":
		return signPrefix(neg) + "0x" + strings.ToUpper(strconv.FormatInt(int64(n), 16))
	default:
		return strconv.FormatInt(int64(n), 10)
	}
}

func signPrefix(neg bool) string {
	if neg {
		return "-"
	}
	return ""
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}
	var out []byte
	rem := len(s) % 3
	if rem > 0 {
		out = append(out, s[:rem]...)
	}
	for i := rem; i < len(s); i += 3 {
		if len(out) > 0 {
			out = append(out, ',')
		}
		out = append(out, s[i:i+3]...)
	}
	return string(out)
}
