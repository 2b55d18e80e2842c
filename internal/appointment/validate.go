package appointment

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("slot_label", func(fl validator.FieldLevel) bool {
		return ValidSlotLabel(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("register slot_label validator: %v", err))
	}
	return v
}

// validateRecord checks the required fields of a record before it is written.
func validateRecord(rec any) error {
	err := validate.Struct(rec)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid record: %s", strings.Join(msgs, "; "))
}
