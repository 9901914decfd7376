package control

import (
	"github.com/go-playground/validator/v10"

	"github.com/haukened/focusflow/internal/focus/domain"
	"github.com/haukened/focusflow/internal/focus/services/scheduler"
)

func validMessageType(fl validator.FieldLevel) bool {
	return scheduler.IsKnownMessageType(scheduler.MessageType(fl.Field().String()))
}

func validClock(fl validator.FieldLevel) bool {
	_, err := domain.ParseClock(fl.Field().String())
	return err == nil
}

func validTimezone(fl validator.FieldLevel) bool {
	_, err := domain.LoadTimezone(fl.Field().String())
	return err == nil
}

// registerValidation registers the custom tags used by request bodies.
var registerValidation = func(v *validator.Validate) error {
	custom := map[string]validator.Func{
		"message_type": validMessageType,
		"clock":        validClock,
		"iana_tz":      validTimezone,
	}
	for tag, fn := range custom {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}

func newValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(v); err != nil {
		return nil, err
	}
	return v, nil
}
