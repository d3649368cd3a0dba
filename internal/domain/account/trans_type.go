package account

import (
	"github.com/shopspring/decimal"
	"github.com/textress/backend/internal/domain/shared"
)

// TransTypeName names a kind of ledger entry.
type TransTypeName string

const (
	TransTypeInitAmt      TransTypeName = "init_amt"
	TransTypeRechargeAmt  TransTypeName = "recharge_amt"
	TransTypeSmsUsed      TransTypeName = "sms_used"
	TransTypePhoneNumber  TransTypeName = "phone_number"
	TransTypeBulkDiscount TransTypeName = "bulk_discount"
)

// KnownTransTypes is the closed vocabulary created on demand by the registry.
var KnownTransTypes = []TransTypeName{
	TransTypeInitAmt,
	TransTypeRechargeAmt,
	TransTypeSmsUsed,
	TransTypePhoneNumber,
	TransTypeBulkDiscount,
}

var transTypeDescriptions = map[TransTypeName]string{
	TransTypeInitAmt:      "Initial account credit",
	TransTypeRechargeAmt:  "Automatic recharge credit",
	TransTypeSmsUsed:      "Daily SMS usage charge",
	TransTypePhoneNumber:  "Monthly phone number fee",
	TransTypeBulkDiscount: "Bulk usage discount credit",
}

func (n TransTypeName) String() string {
	return string(n)
}

// IsValid reports whether the name belongs to the vocabulary.
func (n TransTypeName) IsValid() bool {
	_, ok := transTypeDescriptions[n]
	return ok
}

// IsCredit reports whether entries of this kind add to the balance.
func (n TransTypeName) IsCredit() bool {
	switch n {
	case TransTypeInitAmt, TransTypeRechargeAmt, TransTypeBulkDiscount:
		return true
	}
	return false
}

// Description returns the default description for a known name.
func (n TransTypeName) Description() string {
	return transTypeDescriptions[n]
}

// Signed applies the sign implied by the entry kind to a magnitude.
func (n TransTypeName) Signed(amount decimal.Decimal) decimal.Decimal {
	if n.IsCredit() {
		return amount.Abs()
	}
	return amount.Abs().Neg()
}

// TransType is a persisted ledger entry kind. Immutable once created.
type TransType struct {
	shared.BaseEntity
	Name        TransTypeName
	Description string
}

// NewTransType creates a type for a known name.
func NewTransType(name TransTypeName) (*TransType, error) {
	if !name.IsValid() {
		return nil, ErrTransTypeMissing
	}
	return &TransType{
		BaseEntity:  shared.NewBaseEntity(),
		Name:        name,
		Description: name.Description(),
	}, nil
}
