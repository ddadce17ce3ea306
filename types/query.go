package types

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
)

type Validater interface {
	Validate() map[string]string
}

var validate = validator.New()

type SearchParams struct {
	Query      string   `json:"query" validate:"required"`
	SourceID   string   `json:"source_id"`
	DocumentID string   `json:"doc_id" validate:"omitempty,uuid"`
	MaxResults int      `json:"max_results" validate:"gte=0,lte=100"`
	MinScore   *float64 `json:"min_score" validate:"omitempty,gte=-1,lte=1"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *SearchParams) Validate() map[string]string {
	return validateStruct(params)
}

func validateStruct(s any) map[string]string {
	if err := validate.Struct(s); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"_": err.Error()}
		}
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: http.StatusUnprocessableEntity,
		Errors: errors,
	}
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

type SearchResponse struct {
	Results   []SearchResult `json:"results"`
	Count     int            `json:"count"`
	Timestamp time.Time      `json:"timestamp"`
}
