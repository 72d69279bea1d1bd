package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/catalogsync/internal/catalog"
)

// Options are the caller's choices for one run.
type Options struct {
	// Limit keeps only the first Limit records of the feed when > 0.
	Limit int `json:"limit" validate:"gte=0"`

	// Mode is full or incremental.
	Mode catalog.SyncType `json:"mode" validate:"required,oneof=full incremental"`

	// Purge deletes every catalog row before loading, inside the load
	// transaction. It only runs together with ConfirmPurge.
	Purge        bool `json:"purge"`
	ConfirmPurge bool `json:"confirm_purge" validate:"required_with=Purge"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks opts and returns an *OptionsError listing every problem.
func (o Options) Validate() error {
	err := validate.Struct(o)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &OptionsError{}
	for _, fe := range fieldErrs {
		out.Problems = append(out.Problems, fe.Field()+": "+message(fe))
	}
	return out
}

// OptionsError lists invalid run options.
type OptionsError struct {
	Problems []string
}

func (e *OptionsError) Error() string {
	return "invalid options: " + strings.Join(e.Problems, "; ")
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "required_with":
		return fmt.Sprintf("must be set when %s is set", fe.Param())
	default:
		return "is invalid"
	}
}
