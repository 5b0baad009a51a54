package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

type generatePayload struct {
	Data *string `json:"data" validate:"required,max=4096"`
}

type listQuery struct {
	Skip  int `form:"skip" validate:"gte=0"`
	Limit int `form:"limit" validate:"gte=1,lte=1000"`
}

func TestValidateStructSuccess(t *testing.T) {
	empty := ""
	if err := ValidateStruct(generatePayload{Data: &empty}); err != nil {
		t.Fatalf("expected empty data to be accepted, got %v", err)
	}

	if err := ValidateStruct(listQuery{Skip: 0, Limit: 100}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	err := ValidateStruct(listQuery{Skip: -1, Limit: 5000})
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 2 {
		t.Fatalf("expected 2 validation errors, got %d", len(vErrs))
	}

	fields := map[string]string{}
	for _, v := range vErrs {
		fields[v.Field] = v.Tag
	}
	if fields["skip"] != "gte" {
		t.Fatalf("expected skip to fail on gte, got %q", fields["skip"])
	}
	if fields["limit"] != "lte" {
		t.Fatalf("expected limit to fail on lte, got %q", fields["limit"])
	}
}

func TestValidateStructMissingData(t *testing.T) {
	err := ValidateStruct(generatePayload{})
	vErrs, ok := err.(ValidationErrors)
	if !ok || len(vErrs) != 1 {
		t.Fatalf("expected a single validation error, got %v", err)
	}
	if vErrs[0].Field != "data" || vErrs[0].Tag != "required" {
		t.Fatalf("unexpected failure: %+v", vErrs[0])
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("invitecode", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) == 36
	})
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type custom struct {
		Value string `validate:"invitecode"`
	}

	if err := ValidateStruct(custom{Value: "0b0c7a8e-3f0d-4c1e-9a55-5f6f2bb2a8d1"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
	if err := ValidateStruct(custom{Value: "short"}); err == nil {
		t.Fatal("expected validation to fail for non-matching value")
	}
}
