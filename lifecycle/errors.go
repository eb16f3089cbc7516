package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"arenad/adapters/store"
	"arenad/ledger"
)

type Kind string

const (
	// KindValidation 請求內容不合法，在任何交易之前就拒絕
	KindValidation Kind = "ValidationError"
	// KindStateConflict 狀態、容量、出價、重複參照等在交易內偵測到的衝突
	KindStateConflict Kind = "StateConflict"
	// KindPaymentUnverified 結算閘道否決了付款參照
	KindPaymentUnverified Kind = "PaymentUnverified"
	// KindRetryableConflict 交易因並發寫入中止，只在內部重試
	KindRetryableConflict Kind = "RetryableConflict"
	// KindSettlementFailure 結算閘道呼叫失敗，事件維持原狀態
	KindSettlementFailure Kind = "SettlementFailure"
)

type Reason string

const (
	ReasonNotFound           Reason = "NotFound"
	ReasonNotActive          Reason = "NotActive"
	ReasonExpired            Reason = "Expired"
	ReasonInvalidTransition  Reason = "InvalidTransition"
	ReasonCapacityExceeded   Reason = "CapacityExceeded"
	ReasonEntryLimitExceeded Reason = "EntryLimitExceeded"
	ReasonBidTooLow          Reason = "BidTooLow"
	ReasonDuplicateReference Reason = "DuplicateReference"
	ReasonAlreadyClaimed     Reason = "AlreadyClaimed"
	ReasonNotEligible        Reason = "NotEligible"
	ReasonForbidden          Reason = "Forbidden"
	ReasonNoPrizesAvailable  Reason = "NoPrizesAvailable"
	ReasonSoldOut            Reason = "SoldOut"
	ReasonHasSales           Reason = "HasSales"
	ReasonPrizeLimitExceeded Reason = "PrizeLimitExceeded"
	ReasonDuplicatePrize     Reason = "DuplicatePrize"
	ReasonUnavailable        Reason = "Unavailable"
)

// Error 生命週期操作回傳的錯誤
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Reason != "" {
		b.WriteString("(" + string(e.Reason) + ")")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		b.WriteString(", err=" + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 以Kind與Reason比對；target未指定Reason時只比對Kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// 供errors.Is比對使用的哨兵值
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrStateConflict      = &Error{Kind: KindStateConflict}
	ErrPaymentUnverified  = &Error{Kind: KindPaymentUnverified}
	ErrSettlementFailure  = &Error{Kind: KindSettlementFailure}
	ErrNotFound           = &Error{Kind: KindStateConflict, Reason: ReasonNotFound}
	ErrNotActive          = &Error{Kind: KindStateConflict, Reason: ReasonNotActive}
	ErrExpired            = &Error{Kind: KindStateConflict, Reason: ReasonExpired}
	ErrInvalidTransition  = &Error{Kind: KindStateConflict, Reason: ReasonInvalidTransition}
	ErrCapacityExceeded   = &Error{Kind: KindStateConflict, Reason: ReasonCapacityExceeded}
	ErrEntryLimitExceeded = &Error{Kind: KindStateConflict, Reason: ReasonEntryLimitExceeded}
	ErrBidTooLow          = &Error{Kind: KindStateConflict, Reason: ReasonBidTooLow}
	ErrDuplicateReference = &Error{Kind: KindStateConflict, Reason: ReasonDuplicateReference}
	ErrAlreadyClaimed     = &Error{Kind: KindStateConflict, Reason: ReasonAlreadyClaimed}
	ErrNotEligible        = &Error{Kind: KindStateConflict, Reason: ReasonNotEligible}
	ErrForbidden          = &Error{Kind: KindStateConflict, Reason: ReasonForbidden}
	ErrNoPrizesAvailable  = &Error{Kind: KindStateConflict, Reason: ReasonNoPrizesAvailable}
	ErrSoldOut            = &Error{Kind: KindStateConflict, Reason: ReasonSoldOut}
	ErrHasSales           = &Error{Kind: KindStateConflict, Reason: ReasonHasSales}
	ErrPrizeLimitExceeded = &Error{Kind: KindStateConflict, Reason: ReasonPrizeLimitExceeded}
	ErrDuplicatePrize     = &Error{Kind: KindStateConflict, Reason: ReasonDuplicatePrize}
	ErrUnavailable        = &Error{Kind: KindStateConflict, Reason: ReasonUnavailable}
)

func Invalid(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Conflict(reason Reason, format string, args ...any) *Error {
	return &Error{Kind: KindStateConflict, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func Unverified(reference string) *Error {
	return &Error{Kind: KindPaymentUnverified, Message: fmt.Sprintf("reference %s is not confirmed", reference)}
}

func Settlement(err error, format string, args ...any) *Error {
	return &Error{Kind: KindSettlementFailure, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf 取出錯誤的Kind，非生命週期錯誤回傳空字串
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf 取出錯誤的Reason
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// Normalize 將下層錯誤轉換成生命週期錯誤
//   - 帳本重複參照 -> StateConflict(DuplicateReference)
//   - 衝突重試用盡 -> StateConflict(Unavailable)，內含RetryableConflict
//
// 其他錯誤原樣回傳
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, ledger.ErrDuplicateReference) {
		return &Error{Kind: KindStateConflict, Reason: ReasonDuplicateReference, Message: "reference already applied", Err: err}
	}
	if errors.Is(err, store.ErrRetriesExhausted) {
		return &Error{
			Kind:    KindStateConflict,
			Reason:  ReasonUnavailable,
			Message: "too much contention, try again later",
			Err:     &Error{Kind: KindRetryableConflict, Err: err},
		}
	}
	return err
}
