// Package normalizer turns provider payloads into domain.SettlementEvent.
// It performs no I/O.
package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/punchamoorthee/pkrsettle/internal/domain"
	"github.com/punchamoorthee/pkrsettle/internal/units"
)

const bankStatusSettled = "settled"

type bankWebhook struct {
	ProviderTxID string          `json:"provider_tx_id"`
	Direction    string          `json:"direction"`
	AmountPKR    json.RawMessage `json:"amount_pkr"`
	Status       string          `json:"status"`
	Memo         string          `json:"memo"`
	OccurredAt   *time.Time      `json:"occurred_at"`
	Metadata     struct {
		UserEmail string `json:"user_email"`
	} `json:"metadata"`
}

// BankWebhook decodes a bank webhook body. Only settled events are accepted.
func BankWebhook(body []byte, now time.Time) (domain.SettlementEvent, error) {
	var w bankWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return domain.SettlementEvent{}, domain.Errorf(domain.ErrMalformedEvent, "bank webhook: %v", err)
	}
	if w.ProviderTxID == "" {
		return domain.SettlementEvent{}, domain.Errorf(domain.ErrMalformedEvent, "bank webhook: provider_tx_id is required")
	}
	if w.Metadata.UserEmail == "" {
		return domain.SettlementEvent{}, domain.Errorf(domain.ErrMalformedEvent, "bank webhook: metadata.user_email is required")
	}
	dir, err := parseDirection(w.Direction)
	if err != nil {
		return domain.SettlementEvent{}, err
	}
	if !strings.EqualFold(w.Status, bankStatusSettled) {
		return domain.SettlementEvent{}, domain.Errorf(domain.ErrEventNotSettled, "bank webhook %s has status %q", w.ProviderTxID, w.Status)
	}
	raw, err := amountString(w.AmountPKR)
	if err != nil {
		return domain.SettlementEvent{}, err
	}
	amount, err := units.ParsePKR(raw)
	if err != nil {
		return domain.SettlementEvent{}, err
	}

	occurred := now
	if w.OccurredAt != nil {
		occurred = *w.OccurredAt
	}
	return domain.SettlementEvent{
		Source:      domain.SourceBank,
		Direction:   dir,
		ExternalRef: w.ProviderTxID,
		AmountPKR:   amount,
		Subject:     w.Metadata.UserEmail,
		Memo:        w.Memo,
		OccurredAt:  occurred.UTC(),
	}, nil
}

// WalletTransaction is a row pulled from the wallet provider's listing.
type WalletTransaction struct {
	ProviderTxID string
	Direction    string
	AmountPKR    string
	Memo         string
	OccurredAt   time.Time
}

// FromWallet normalizes a polled wallet-provider row for subject.
func FromWallet(tx WalletTransaction, subject string) (domain.SettlementEvent, error) {
	if tx.ProviderTxID == "" {
		return domain.SettlementEvent{}, domain.Errorf(domain.ErrMalformedEvent, "wallet transaction without provider_tx_id")
	}
	dir, err := parseDirection(tx.Direction)
	if err != nil {
		return domain.SettlementEvent{}, err
	}
	amount, err := units.ParsePKR(tx.AmountPKR)
	if err != nil {
		return domain.SettlementEvent{}, err
	}
	return domain.SettlementEvent{
		Source:      domain.SourceBank,
		Direction:   dir,
		ExternalRef: tx.ProviderTxID,
		AmountPKR:   amount,
		Subject:     subject,
		Memo:        tx.Memo,
		OccurredAt:  tx.OccurredAt.UTC(),
	}, nil
}

// Redeem normalizes a direct API redeem call.
func Redeem(subject string, amountUnits int64, memo string, now time.Time) (domain.SettlementEvent, error) {
	if amountUnits <= 0 {
		return domain.SettlementEvent{}, domain.Errorf(domain.ErrAmountOutOfRange, "amount_units must be positive, got %d", amountUnits)
	}
	if memo == "" {
		memo = "redeem"
	}
	return domain.SettlementEvent{
		Source:      domain.SourceManual,
		Type:        string(domain.JobBurn),
		AmountUnits: amountUnits,
		Subject:     subject,
		Memo:        memo,
		OccurredAt:  now.UTC(),
	}, nil
}

func parseDirection(s string) (domain.Direction, error) {
	switch domain.Direction(strings.ToLower(s)) {
	case domain.DirectionCredit:
		return domain.DirectionCredit, nil
	case domain.DirectionDebit:
		return domain.DirectionDebit, nil
	}
	return "", domain.Errorf(domain.ErrMalformedEvent, "direction must be credit or debit, got %q", s)
}

// amountString accepts amount_pkr as a JSON string or a JSON number.
func amountString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", domain.Errorf(domain.ErrMalformedEvent, "amount_pkr is required")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", domain.Errorf(domain.ErrMalformedEvent, "amount_pkr: %v", err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", domain.Errorf(domain.ErrMalformedEvent, "amount_pkr must be a string or number")
	}
	return n.String(), nil
}

func chainRef(txid string, index int) string {
	return fmt.Sprintf("%s:%d", txid, index)
}
