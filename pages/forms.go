package pages

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// RegisterInput is the posted Account/Register form
type RegisterInput struct {
	Email           string `validate:"required,email,max=256"`
	Password        string `validate:"required,min=6,max=100"`
	ConfirmPassword string `validate:"eqfield=Password"`
}

// LoginInput is the posted Account/Login form
type LoginInput struct {
	Email      string `validate:"required,email"`
	Password   string `validate:"required"`
	RememberMe bool
}

// ChangePasswordInput is the posted Account/Manage form
type ChangePasswordInput struct {
	OldPassword     string `validate:"required"`
	NewPassword     string `validate:"required,min=6,max=100"`
	ConfirmPassword string `validate:"eqfield=NewPassword"`
}

var displayNames = map[string]string{
	"Email":           "Email",
	"Password":        "Password",
	"ConfirmPassword": "Confirm password",
	"OldPassword":     "Current password",
	"NewPassword":     "New password",
}

// formErrors validates input and turns field failures into display messages.
// A non-validation error is returned as is.
func formErrors(v *validator.Validate, input any) ([]string, error) {
	err := v.Struct(input)
	if err == nil {
		return nil, nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil, err
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return msgs, nil
}

func fieldMessage(fe validator.FieldError) string {
	name := displayNames[fe.StructField()]
	if name == "" {
		name = fe.StructField()
	}

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", name)
	case "email":
		return fmt.Sprintf("The %s field is not a valid e-mail address.", name)
	case "min", "max":
		if fe.StructField() == "Email" {
			return fmt.Sprintf("The %s field is too long.", name)
		}
		return fmt.Sprintf("The %s must be at least 6 and at max 100 characters long.", name)
	case "eqfield":
		if fe.Param() == "NewPassword" {
			return "The new password and confirmation password do not match."
		}
		return "The password and confirmation password do not match."
	}
	return fmt.Sprintf("The %s field is invalid.", name)
}
