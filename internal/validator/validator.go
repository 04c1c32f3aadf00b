package validator

import (
	"errors"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/mintledger/internal/apperror"
	"github.com/congo-pay/mintledger/internal/ledger"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Amounts are validated in their canonical string form.
	validate.RegisterCustomTypeFunc(func(v reflect.Value) interface{} {
		d, ok := v.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		return d.String()
	}, decimal.Decimal{})

	registerCustomValidations()
}

func registerCustomValidations() {
	validate.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		if err != nil {
			return false
		}
		return ledger.CheckAmount(d) == nil
	})

	validate.RegisterValidation("wallet_status", func(fl validator.FieldLevel) bool {
		return ledger.WalletStatus(fl.Field().String()).Valid()
	})
}

// Validate checks s against its struct tags and returns field errors keyed by
// JSON name, or nil.
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			fields[field] = "is required"
		case "uuid", "uuid4":
			fields[field] = "must be a UUID"
		case "iso4217":
			fields[field] = "must be an ISO 4217 currency code"
		case "numeric":
			fields[field] = "must contain only digits"
		case "max":
			fields[field] = "is too long (max: " + fe.Param() + ")"
		case "amount":
			fields[field] = "must be a positive amount with at most two decimal places"
		case "wallet_status":
			fields[field] = "must be one of active, inactive, suspended, closed"
		default:
			fields[field] = "is invalid"
		}
	}
	return fields
}

// Struct validates s and reports failures as an INVALID_PARAMETERS error.
func Struct(s interface{}) error {
	fields := Validate(s)
	if fields == nil {
		return nil
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+fields[name])
	}
	return apperror.New(apperror.KindInvalidParameters, strings.Join(parts, "; "))
}

// ParseBody decodes the request body into dst and validates it.
func ParseBody(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return apperror.Wrap(apperror.KindInvalidParameters, "malformed request body", err)
	}
	return Struct(dst)
}
