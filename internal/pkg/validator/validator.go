package validator

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate struct fields
func Validate(v interface{}) map[string]string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	errors := make(map[string]string)
	for _, err := range err.(validator.ValidationErrors) {
		errors[err.Field()] = err.Tag()
	}
	return errors
}

var (
	ErrInvalidBirthDate = errors.New("unrecognized birth date format")
	ErrFutureBirthDate  = errors.New("birth date cannot be in the future")
)

// Accepted birth date notations, normalized to a single UTC calendar date.
var birthDateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
}

func ParseBirthDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range birthDateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		date := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		if date.After(time.Now().UTC()) {
			return time.Time{}, ErrFutureBirthDate
		}
		return date, nil
	}
	return time.Time{}, ErrInvalidBirthDate
}
