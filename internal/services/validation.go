package services

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"raffle-pix-app/internal/apperr"
	"raffle-pix-app/internal/models"
)

var (
	namePattern  = regexp.MustCompile(`^[\p{L}\s]+$`)
	cityPattern  = regexp.MustCompile(`^[\p{L}\s\-]+$`)
	phonePattern = regexp.MustCompile(`^\d{10,11}$`)
	nonDigits    = regexp.MustCompile(`\D`)

	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
			return name
		}
		return f.Name
	})
	v.RegisterCustomTypeFunc(func(f reflect.Value) any {
		if d, ok := f.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	mustRegister(v, "personname", namePattern)
	mustRegister(v, "cityname", cityPattern)
	mustRegister(v, "brphone", phonePattern)
	return v
}

func mustRegister(v *validator.Validate, tag string, re *regexp.Regexp) {
	if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
}

// buyerRules is the checked shape of a buyer after normalization.
type buyerRules struct {
	Name  string `json:"name" validate:"required,min=2,max=100,personname"`
	Email string `json:"email" validate:"required,max=254,email"`
	Phone string `json:"phone" validate:"omitempty,brphone"`
	City  string `json:"city" validate:"omitempty,min=2,max=100,cityname"`
}

// normalizeBuyer trims the buyer fields and checks them. Phone is reduced to
// its digits.
func normalizeBuyer(b models.Buyer) (models.Buyer, error) {
	b.Name = strings.TrimSpace(b.Name)
	b.Email = strings.ToLower(strings.TrimSpace(b.Email))
	b.Phone = nonDigits.ReplaceAllString(b.Phone, "")
	b.City = strings.TrimSpace(b.City)

	if err := validate.Struct(buyerRules(b)); err != nil {
		return b, invalid(err)
	}
	return b, nil
}

// RaffleInput is the editable part of a raffle. A zero DrawDate means the
// next lottery draw on create and "unchanged" on update; a nil ReserveHours
// means the configured default on create and "unchanged" on update.
type RaffleInput struct {
	Title          string          `json:"title" validate:"required,max=255"`
	Description    string          `json:"description" validate:"max=1000"`
	TotalNumbers   int             `json:"total_numbers" validate:"min=1,max=10000"`
	PricePerNumber decimal.Decimal `json:"price_per_number" validate:"gte=0.01"`
	DrawDate       time.Time       `json:"draw_date"`
	ReserveHours   *int            `json:"reserve_hours" validate:"omitempty,min=0"`
}

func validateRaffle(in *RaffleInput) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := validate.Struct(in); err != nil {
		return invalid(err)
	}
	return nil
}

// invalid turns the first failed rule into an InvalidInput error named after
// the JSON field.
func invalid(err error) error {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return apperr.InvalidInput("%v", err)
	}
	fe := fields[0]
	switch fe.Tag() {
	case "required":
		return apperr.InvalidInput("%s is required", fe.Field())
	case "min", "gte":
		if fe.Kind() == reflect.String {
			return apperr.InvalidInput("%s is too short", fe.Field())
		}
		return apperr.InvalidInput("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return apperr.InvalidInput("%s is too long", fe.Field())
		}
		return apperr.InvalidInput("%s must be at most %s", fe.Field(), fe.Param())
	}
	return apperr.InvalidInput("invalid %s", fe.Field())
}
