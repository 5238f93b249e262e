package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/makerhub/backend/internal/apperr"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestNew_CompilesEveryOperation(t *testing.T) {
	v := newTestValidator(t)
	for _, op := range []string{ApplyTransaction, RedeemGiftCard, AdminAdjustCredits, MakerUpdateOrderStatus, CreateOrder, IssueGiftCard, AssignMaker, Reason} {
		if _, ok := v.schemas[op]; !ok {
			t.Errorf("missing schema for %s", op)
		}
	}
}

func TestValidate_Valid(t *testing.T) {
	v := newTestValidator(t)
	cases := map[string]string{
		ApplyTransaction:       `{"user_id":"6f1c2a4e-7b3d-4c5e-9f10-112233445566","type":"spend","amount":-500,"reference_id":"order-1"}`,
		RedeemGiftCard:         `{"code":"abcd-efgh-ijkl"}`,
		AdminAdjustCredits:     `{"user_id":"6f1c2a4e-7b3d-4c5e-9f10-112233445566","amount":-200,"reason":"fraud correction","type":"correction"}`,
		MakerUpdateOrderStatus: `{"status":"shipped","tracking_number":"123","carrier":"CarrierX"}`,
		CreateOrder:            `{"user_id":"6f1c2a4e-7b3d-4c5e-9f10-112233445566","total":1500,"payment_method":"credits","shipping_address":"1 Main St"}`,
		IssueGiftCard:          `{"credits_value":1000,"expires_at":"2027-01-01T00:00:00Z"}`,
		AssignMaker:            `{"maker_id":"6f1c2a4e-7b3d-4c5e-9f10-112233445566"}`,
		Reason:                 `{"reason":"customer request"}`,
	}
	for op, body := range cases {
		if err := v.Validate(op, []byte(body)); err != nil {
			t.Errorf("%s: expected valid, got %v", op, err)
		}
	}
}

func TestValidate_Invalid(t *testing.T) {
	v := newTestValidator(t)
	cases := []struct {
		name, op, body string
	}{
		{"not json", RedeemGiftCard, `{code:`},
		{"trailing data", RedeemGiftCard, `{"code":"A"} {"code":"B"}`},
		{"missing code", RedeemGiftCard, `{}`},
		{"unknown field", RedeemGiftCard, `{"code":"A","user_id":"x"}`},
		{"fractional amount", ApplyTransaction, `{"user_id":"6f1c2a4e-7b3d-4c5e-9f10-112233445566","type":"spend","amount":1.5}`},
		{"bad user id", ApplyTransaction, `{"user_id":"bob","type":"spend","amount":1}`},
		{"unknown type", ApplyTransaction, `{"user_id":"6f1c2a4e-7b3d-4c5e-9f10-112233445566","type":"cashback","amount":1}`},
		{"empty reason", AdminAdjustCredits, `{"user_id":"6f1c2a4e-7b3d-4c5e-9f10-112233445566","amount":5,"reason":"","type":"bonus"}`},
		{"spend adjustment", AdminAdjustCredits, `{"user_id":"6f1c2a4e-7b3d-4c5e-9f10-112233445566","amount":5,"reason":"x","type":"spend"}`},
		{"zero total", CreateOrder, `{"user_id":"6f1c2a4e-7b3d-4c5e-9f10-112233445566","total":0,"payment_method":"card","shipping_address":"x"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(tc.op, []byte(tc.body))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("errors.Is(err, ErrValidation) = false for %v", err)
			}
			if apperr.KindOf(err) != apperr.KindValidation {
				t.Errorf("kind = %s", apperr.KindOf(err))
			}
			if !strings.HasPrefix(err.Error(), tc.op+": ") {
				t.Errorf("message %q should name the operation", err.Error())
			}
		})
	}
}

func TestValidate_UnknownOperation(t *testing.T) {
	v := newTestValidator(t)
	err := v.Validate("nope", []byte(`{}`))
	if err == nil || errors.Is(err, ErrValidation) {
		t.Errorf("unknown operation should be a programming error, got %v", err)
	}
}
