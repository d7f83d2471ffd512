package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Canonical field keys produced by layout strategies.
const (
	fieldAmount     = "amount"
	fieldCommission = "commission"
	fieldSender     = "sender"
	fieldRecipient  = "recipient"
	fieldPhone      = "phone"
	fieldCard       = "card"
	fieldBank       = "bank"
	fieldOperation  = "operation"
)

// labelFields maps a label line, exactly as it appears in the document, to
// the field it introduces. Layouts shift line counts when optional sections
// like commission are present, so labels are matched anywhere in the line
// sequence rather than at fixed offsets.
var labelFields = map[string]string{
	"Сумма":                     fieldAmount,
	"Сумма перевода":            fieldAmount,
	"Сумма платежа":             fieldAmount,
	"Комиссия":                  fieldCommission,
	"Отправитель":               fieldSender,
	"ФИО отправителя":           fieldSender,
	"Получатель":                fieldRecipient,
	"ФИО получателя":            fieldRecipient,
	"Телефон получателя":        fieldPhone,
	"Номер телефона получателя": fieldPhone,
	"Карта получателя":          fieldCard,
	"Номер карты получателя":    fieldCard,
	"Банк получателя":           fieldBank,
	"Номер документа":           fieldOperation,
	"Номер операции":            fieldOperation,
	"Идентификатор операции":    fieldOperation,
}

func isLabel(line string) bool {
	_, ok := labelFields[line]
	return ok
}

var (
	timestampRe = regexp.MustCompile(`\d{2}\.\d{2}\.\d{4} \d{2}:\d{2}:\d{2}`)
	amountJunk  = strings.NewReplacer(
		"₽", "", "руб.", "", "руб", "", "RUB", "", "р.", "",
		" ", "", " ", "", " ", "",
	)
	digitsOnly = regexp.MustCompile(`\D`)
)

// ParseAmount parses a localized decimal: comma or dot separator, currency
// symbol and thousands spacing stripped.
func ParseAmount(raw string) (decimal.Decimal, bool) {
	cleaned := amountJunk.Replace(strings.TrimSpace(raw))
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	if cleaned == "" {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return amount, true
}

// ParseTimestamp finds the first DD.MM.YYYY HH:MM:SS occurrence in the line
// list. Receipts carry it on the first line, but scanning keeps the parser
// tolerant of cover pages.
func ParseTimestamp(lines []string) *time.Time {
	for _, line := range lines {
		match := timestampRe.FindString(line)
		if match == "" {
			continue
		}
		ts, err := time.Parse("02.01.2006 15:04:05", match)
		if err != nil {
			continue
		}
		return &ts
	}
	return nil
}

// NormalizePhone reduces a phone number to bare digits for matching. An
// 11-digit number loses its leading country-code digit. Parsing keeps the
// source format; normalization happens only at match time.
func NormalizePhone(raw string) string {
	digits := digitsOnly.ReplaceAllString(raw, "")
	if len(digits) == 11 {
		return digits[1:]
	}
	return digits
}

// CardTail returns the trailing digits of a masked card number, the only
// part two systems can agree on.
func CardTail(masked string) string {
	digits := digitsOnly.ReplaceAllString(masked, "")
	if len(digits) > 4 {
		return digits[len(digits)-4:]
	}
	return digits
}
