package http

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// RangeParams are the date bounds accepted by the detail and trend endpoints.
type RangeParams struct {
	From string `query:"from" validate:"omitempty,max=16"`
	To   string `query:"to" validate:"omitempty,max=16"`
}

// VisitorsParams are the query parameters of GET /api/visitors.
type VisitorsParams struct {
	From  string `query:"from" validate:"omitempty,max=16"`
	To    string `query:"to" validate:"omitempty,max=16"`
	Limit int    `query:"limit" validate:"omitempty,min=1"`
}

// PowerUsersParams are the query parameters of GET /api/power-users.
type PowerUsersParams struct {
	From        string `query:"from" validate:"omitempty,max=16"`
	To          string `query:"to" validate:"omitempty,max=16"`
	MinSessions int    `query:"min_sessions" validate:"omitempty,min=1"`
}

// RunsParams are the query parameters of GET /api/runs.
type RunsParams struct {
	Operation string `query:"operation" validate:"omitempty,max=64"`
	Limit     int    `query:"limit" validate:"omitempty,min=1,max=500"`
}

// validateParams returns a readable description of the first failed rule.
func validateParams(params interface{}) error {
	err := getValidator().Struct(params)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s is invalid", field))
		}
	}
	return errors.New(strings.Join(messages, "; "))
}
