package handler

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/stashlite/internal/stash/domain"
)

// timestampLayouts are tried in order. Layouts without an offset are read
// as UTC; seconds may be omitted.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	messages := make([]string, 0, len(v))
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

// Fields renders the errors as the {"field": "message"} body of a 400
// response. The first message per field wins.
func (v ValidationErrors) Fields() map[string]string {
	out := make(map[string]string, len(v))
	for _, err := range v {
		if _, ok := out[err.Field]; !ok {
			out[err.Field] = err.Message
		}
	}
	return out
}

type searchQuery struct {
	Lat      *float64  `query:"lat" validate:"required,gte=-90,lte=90"`
	Lng      *float64  `query:"lng" validate:"required,gte=-180,lte=180"`
	BagCount *int      `query:"bag_count" validate:"required,min=1"`
	RadiusKM float64   `query:"radius_km" validate:"gt=0"`
	Dropoff  time.Time `query:"dropoff" validate:"required"`
	Pickup   time.Time `query:"pickup" validate:"required,gtfield=Dropoff"`
}

// QueryValidator turns search query strings into a domain.SearchRequest.
type QueryValidator struct {
	validate        *validator.Validate
	defaultRadiusKM float64
}

// NewQueryValidator constructs a validator; defaultRadiusKM applies when the
// query omits radius_km.
func NewQueryValidator(defaultRadiusKM float64) *QueryValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("query")
	})
	if defaultRadiusKM <= 0 {
		defaultRadiusKM = 10
	}
	return &QueryValidator{validate: v, defaultRadiusKM: defaultRadiusKM}
}

// Parse reads and validates the query. Parse failures and rule violations are
// both returned as ValidationErrors.
func (v *QueryValidator) Parse(values url.Values) (domain.SearchRequest, error) {
	var (
		q    = searchQuery{RadiusKM: v.defaultRadiusKM}
		errs ValidationErrors
	)

	if raw := values.Get("lat"); raw != "" {
		lat, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			errs = append(errs, ValidationError{Field: "lat", Message: "lat must be a number"})
		} else {
			q.Lat = &lat
		}
	}
	if raw := values.Get("lng"); raw != "" {
		lng, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			errs = append(errs, ValidationError{Field: "lng", Message: "lng must be a number"})
		} else {
			q.Lng = &lng
		}
	}
	if raw := values.Get("bag_count"); raw != "" {
		bags, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, ValidationError{Field: "bag_count", Message: "bag_count must be an integer"})
		} else {
			q.BagCount = &bags
		}
	}
	if raw := values.Get("radius_km"); raw != "" {
		radius, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			errs = append(errs, ValidationError{Field: "radius_km", Message: "radius_km must be a number"})
		} else {
			q.RadiusKM = radius
		}
	}
	for _, field := range []struct {
		name string
		dst  *time.Time
	}{{"dropoff", &q.Dropoff}, {"pickup", &q.Pickup}} {
		raw := values.Get(field.name)
		if raw == "" {
			continue
		}
		t, err := parseTimestamp(raw)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   field.name,
				Message: fmt.Sprintf("%s must be an ISO 8601 timestamp (e.g. 2024-04-20T10:00:00Z)", field.name),
			})
			continue
		}
		*field.dst = t
	}

	if err := v.validate.Struct(q); err != nil {
		var validationErrs validator.ValidationErrors
		if !errors.As(err, &validationErrs) {
			return domain.SearchRequest{}, err
		}
		errs = append(errs, translateValidationErrors(validationErrs, errs)...)
	}
	if len(errs) > 0 {
		return domain.SearchRequest{}, errs
	}

	return domain.SearchRequest{
		Origin:   domain.GeoPoint{Lat: *q.Lat, Lng: *q.Lng},
		RadiusKM: q.RadiusKM,
		Window:   domain.Window{Dropoff: q.Dropoff, Pickup: q.Pickup},
		BagCount: *q.BagCount,
	}, nil
}

// translateValidationErrors skips fields that already failed to parse so a
// malformed value is not also reported as missing.
func translateValidationErrors(errs validator.ValidationErrors, parsed ValidationErrors) ValidationErrors {
	seen := make(map[string]struct{}, len(parsed))
	for _, p := range parsed {
		seen[p.Field] = struct{}{}
	}

	var out ValidationErrors
	for _, err := range errs {
		if _, ok := seen[err.Field()]; ok {
			continue
		}
		message := err.Error()
		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("missing '%s' query parameter", err.Field())
		case "gte":
			message = fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
		case "lte":
			message = fmt.Sprintf("%s must be at most %s", err.Field(), err.Param())
		case "min":
			message = fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
		case "gt":
			message = fmt.Sprintf("%s must be a positive number", err.Field())
		case "gtfield":
			message = "pickup must be after dropoff"
		}
		out = append(out, ValidationError{Field: err.Field(), Message: message})
	}
	return out
}

func parseTimestamp(raw string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var t time.Time
		if t, err = time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}
