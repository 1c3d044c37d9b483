package render

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// currencyKeys are data keys whose numeric values are always money, even when
// they arrive as integers.
var currencyKeys = map[string]struct{}{
	"amount": {},
	"value":  {},
	"total":  {},
}

var currencySymbols = map[string]string{
	"BRL": "R$",
	"USD": "US$",
	"EUR": "€",
	"GBP": "£",
}

var dateLayouts = map[language.Base]string{}

func init() {
	pt, _ := language.Portuguese.Base()
	es, _ := language.Spanish.Base()
	fr, _ := language.French.Base()
	dateLayouts[pt] = "02/01/2006 15:04"
	dateLayouts[es] = "02/01/2006 15:04"
	dateLayouts[fr] = "02/01/2006 15:04"
}

// Formatter turns raw data values into locale formatted strings.
type Formatter struct {
	tag        language.Tag
	printer    *message.Printer
	symbol     string
	dateLayout string
}

// NewFormatter builds a formatter for the BCP 47 locale and ISO 4217 currency.
func NewFormatter(locale, currencyCode string) (*Formatter, error) {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return nil, fmt.Errorf("render: invalid locale %q: %w", locale, err)
	}
	unit, err := currency.ParseISO(strings.TrimSpace(currencyCode))
	if err != nil {
		return nil, fmt.Errorf("render: invalid currency %q: %w", currencyCode, err)
	}

	symbol, ok := currencySymbols[unit.String()]
	if !ok {
		symbol = unit.String()
	}

	layout := "2006-01-02 15:04"
	if base, _ := tag.Base(); dateLayouts[base] != "" {
		layout = dateLayouts[base]
	}

	return &Formatter{
		tag:        tag,
		printer:    message.NewPrinter(tag),
		symbol:     symbol,
		dateLayout: layout,
	}, nil
}

// Money formats v with two decimals and the currency symbol.
func (f *Formatter) Money(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = math.Abs(v)
	}
	return sign + f.symbol + " " + f.printer.Sprint(number.Decimal(v, number.Scale(2)))
}

// Date formats t using the locale's day-first or ISO layout.
func (f *Formatter) Date(t time.Time) string {
	return t.Format(f.dateLayout)
}

// Value formats a single data value. Raw numeric types never reach a
// template: floats and currency keys become money, timestamps become dates.
func (f *Formatter) Value(key string, v any) string {
	_, money := currencyKeys[key]

	switch val := v.(type) {
	case nil:
		return ""
	case string:
		if ts, err := time.Parse(time.RFC3339, val); err == nil {
			return f.Date(ts)
		}
		return val
	case time.Time:
		return f.Date(val)
	case *time.Time:
		if val == nil {
			return ""
		}
		return f.Date(*val)
	case float64:
		return f.float(val, money)
	case float32:
		return f.float(float64(val), money)
	case json.Number:
		if fl, err := val.Float64(); err == nil && (money || strings.Contains(val.String(), ".")) {
			return f.Money(fl)
		}
		return val.String()
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		n, _ := strconv.ParseFloat(fmt.Sprint(val), 64)
		if money {
			return f.Money(n)
		}
		return fmt.Sprint(val)
	case bool:
		return strconv.FormatBool(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// float keeps whole numbers decoded from JSON (order numbers, day counts)
// out of currency formatting unless the key is a money key.
func (f *Formatter) float(v float64, money bool) string {
	if !money && v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return f.Money(v)
}

// Bag formats every value of data into a string map ready for templates.
func (f *Formatter) Bag(data map[string]any) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = f.Value(k, v)
	}
	return out
}
