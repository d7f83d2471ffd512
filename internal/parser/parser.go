package parser

import (
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/p2psettle/backend/internal/models"
)

// Bank markers used to label which institution produced the document.
var bankMarkers = []struct {
	token string
	label string
}{
	{"Сбербанк", "sber"},
	{"СберБанк", "sber"},
	{"Т-Банк", "tbank"},
	{"Тинькофф", "tbank"},
	{"Альфа", "alfa"},
	{"ВТБ", "vtb"},
}

// Parser turns extracted document text into a canonical receipt. It never
// returns an error: a malformed document produces a failed receipt carrying
// the full raw text so a maintainer can add a layout rule later.
type Parser struct {
	strategies []layoutStrategy
}

func New() *Parser {
	return &Parser{
		strategies: []layoutStrategy{
			inlineLayout{},
			blockLayout{},
		},
	}
}

// Parse builds a receipt from the extracted text of one document.
func (p *Parser) Parse(fileName, rawText string) *models.Receipt {
	receipt := &models.Receipt{
		ID:          uuid.NewString(),
		FileName:    fileName,
		RawText:     rawText,
		ParseStatus: models.ParseFailed,
		FailLine:    -1,
		CreatedAt:   time.Now(),
	}

	lines := splitLines(rawText)
	if len(lines) == 0 {
		receipt.FailReason = "document produced no text"
		return receipt
	}

	var fields fieldMap
	for _, strategy := range p.strategies {
		extracted, ok := strategy.TryExtract(lines)
		if ok {
			fields = extracted
			receipt.Layout = strategy.Name()
			break
		}
	}
	if fields == nil {
		receipt.FailReason = "no layout strategy matched"
		return receipt
	}

	p.populate(receipt, fields, lines)
	return receipt
}

func (p *Parser) populate(receipt *models.Receipt, fields fieldMap, lines []string) {
	amountHit := fields[fieldAmount]
	amount, ok := ParseAmount(amountHit.Value)
	if !ok {
		receipt.FailReason = "unparsable amount"
		receipt.FailLine = amountHit.Line
		return
	}
	receipt.Amount = amount

	if hit, ok := fields[fieldCommission]; ok {
		if commission, ok := ParseAmount(hit.Value); ok {
			receipt.Commission = commission
		}
	}
	if hit, ok := fields[fieldSender]; ok {
		receipt.SenderName = hit.Value
	}
	if hit, ok := fields[fieldRecipient]; ok {
		receipt.RecipientName = hit.Value
	}
	if hit, ok := fields[fieldPhone]; ok {
		receipt.RecipientPhone = hit.Value
	}
	if hit, ok := fields[fieldCard]; ok {
		receipt.RecipientCard = hit.Value
	}
	if hit, ok := fields[fieldBank]; ok {
		receipt.RecipientBank = hit.Value
	}
	if hit, ok := fields[fieldOperation]; ok {
		receipt.OperationID = hit.Value
	}

	// At least one recipient identifier is mandatory: without a phone or a
	// card there is nothing to match the payout destination against.
	if receipt.RecipientPhone == "" && receipt.RecipientCard == "" {
		receipt.FailReason = "no recipient phone or card"
		receipt.FailLine = amountHit.Line
		return
	}

	receipt.TransferredAt = ParseTimestamp(lines)
	receipt.TransferType = detectTransferType(lines, receipt)
	receipt.BankLabel = detectBank(lines)
	receipt.ParseStatus = models.ParseOK
	receipt.FailLine = 0

	log.Printf("[PARSER] parsed %s layout=%s amount=%s", receipt.FileName, receipt.Layout, receipt.Amount)
}

// detectTransferType tags phone-based transfers, which match on a different
// key than card-based ones.
func detectTransferType(lines []string, receipt *models.Receipt) string {
	for _, line := range lines {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "по номеру телефона") {
			return models.TransferByPhone
		}
		if strings.Contains(lower, "по номеру карты") {
			return models.TransferByCard
		}
	}
	if receipt.RecipientPhone != "" {
		return models.TransferByPhone
	}
	if receipt.RecipientCard != "" {
		return models.TransferByCard
	}
	return ""
}

func detectBank(lines []string) string {
	for _, line := range lines {
		for _, marker := range bankMarkers {
			if strings.Contains(line, marker.token) {
				return marker.label
			}
		}
	}
	return ""
}
