package sepa

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/ydmw74/sepa-xml-converter/internal/normalize"
	"github.com/ydmw74/sepa-xml-converter/internal/types"
	"github.com/ydmw74/sepa-xml-converter/internal/validation"
)

// Sequence types accepted in PmtTpInf/SeqTp.
const (
	SequenceFirst     = "FRST"
	SequenceRecurring = "RCUR"
	SequenceOneOff    = "OOFF"
	SequenceFinal     = "FNAL"
)

// Profile is the creditor identity used for one batch. It is passed by value
// and never changed while a message is built.
type Profile struct {
	Name         string `validate:"required,max=70"`
	IBAN         string `validate:"required,iban"`
	BIC          string `validate:"required,bic"`
	SchemeID     string `validate:"required,max=35"`
	SequenceType string `validate:"required,oneof=FRST RCUR OOFF FNAL"`
}

// ConfigError reports an incomplete or malformed creditor profile.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "creditor configuration: " + strings.Join(e.Problems, "; ")
}

var (
	profileValidator     *validator.Validate
	profileValidatorOnce sync.Once
)

func getValidator() *validator.Validate {
	profileValidatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("iban", func(fl validator.FieldLevel) bool {
			return validation.ValidIBAN(fl.Field().String())
		})
		_ = v.RegisterValidation("bic", func(fl validator.FieldLevel) bool {
			return validation.ValidBIC(fl.Field().String())
		})
		profileValidator = v
	})
	return profileValidator
}

// Validate returns a *ConfigError naming every missing or invalid field.
func (p Profile) Validate() error {
	err := getValidator().Struct(p)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return &ConfigError{Problems: []string{err.Error()}}
	}

	problems := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		if fe.Tag() == "required" {
			problems = append(problems, "missing "+fe.Field())
			continue
		}
		problems = append(problems, fmt.Sprintf("invalid %s %q", fe.Field(), fe.Value()))
	}

	return &ConfigError{Problems: problems}
}

// ResolveProfile applies the creditor columns of the first row over the
// defaults, field by field. Creditor columns on later rows are not used;
// every later value that differs from the first row produces a warning.
func ResolveProfile(defaults Profile, rows []types.RawRow) (Profile, []string) {
	profile := defaults
	if len(rows) == 0 {
		return profile, nil
	}

	first := rows[0]
	targets := map[string]*string{
		types.FieldCreditorName: &profile.Name,
		types.FieldCreditorIBAN: &profile.IBAN,
		types.FieldCreditorBIC:  &profile.BIC,
		types.FieldCreditorID:   &profile.SchemeID,
		types.FieldSequenceType: &profile.SequenceType,
	}

	for _, field := range types.CreditorFields {
		if value := creditorValue(field, first.Get(field)); value != "" {
			*targets[field] = value
		}
	}

	var warnings []string
	for i := 1; i < len(rows); i++ {
		for _, field := range types.CreditorFields {
			value := creditorValue(field, rows[i].Get(field))
			if value == "" {
				continue
			}
			if value != creditorValue(field, first.Get(field)) {
				warnings = append(warnings, fmt.Sprintf(
					"Row %d: %s %q differs from row 1 and is ignored", i+1, field, value))
			}
		}
	}

	return profile, warnings
}

func creditorValue(field string, raw any) string {
	switch field {
	case types.FieldCreditorIBAN:
		return normalize.CompactIBAN(raw)
	case types.FieldSequenceType:
		return strings.ToUpper(normalize.Text(raw))
	default:
		return normalize.Text(raw)
	}
}
