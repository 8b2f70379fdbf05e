package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error. It is
// surfaced before any request is dispatched; an invalid suite or plan
// never partially executes.
type ValidationError struct {
	Path    string
	Message string
}

// Error returns the error message.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidateSuite validates a suite model.
func ValidateSuite(suite *Suite) []ValidationError {
	var errors []ValidationError

	if suite.Name == "" {
		errors = append(errors, ValidationError{
			Path:    "name",
			Message: "suite name is required",
		})
	}

	if len(suite.Tests) == 0 {
		errors = append(errors, ValidationError{
			Path:    "tests",
			Message: "at least one test is required",
		})
	}

	for name, env := range suite.Env {
		if env.BaseURL == "" {
			errors = append(errors, ValidationError{
				Path:    fmt.Sprintf("env.%s.base_url", name),
				Message: "base_url is required",
			})
		}
	}

	if suite.DefaultEnv != "" {
		if _, ok := suite.Env[suite.DefaultEnv]; !ok {
			errors = append(errors, ValidationError{
				Path:    "default_env",
				Message: fmt.Sprintf("environment not found: %s", suite.DefaultEnv),
			})
		}
	}

	errors = append(errors, validateCases("setup", suite, suite.Setup)...)
	errors = append(errors, validateCases("tests", suite, suite.Tests)...)
	errors = append(errors, validateCases("teardown", suite, suite.Teardown)...)

	if suite.Dataset != nil {
		if suite.Dataset.File == "" {
			errors = append(errors, ValidationError{
				Path:    "dataset.file",
				Message: "dataset file is required",
			})
		}
		if suite.Dataset.Parallel < 0 {
			errors = append(errors, ValidationError{
				Path:    "dataset.parallel",
				Message: "parallel cannot be negative",
			})
		}
	}

	if suite.Retry != nil {
		errors = append(errors, validateRetry("retry", suite.Retry)...)
	}

	if suite.Load != nil {
		errors = append(errors, ValidateLoadPlan(suite.Load)...)
	}

	return errors
}

func validateCases(section string, suite *Suite, cases []TestCase) []ValidationError {
	var errors []ValidationError

	for i, tc := range cases {
		path := fmt.Sprintf("%s[%d]", section, i)

		if tc.Name == "" {
			errors = append(errors, ValidationError{
				Path:    path + ".name",
				Message: "name is required",
			})
		}

		if tc.Request.URL == "" {
			errors = append(errors, ValidationError{
				Path:    path + ".request.url",
				Message: "url is required",
			})
		}

		if tc.Request.Method == "" {
			errors = append(errors, ValidationError{
				Path:    path + ".request.method",
				Message: "method is required",
			})
		} else if !strings.Contains(tc.Request.Method, "{{") && !validMethod(tc.Request.Method) {
			errors = append(errors, ValidationError{
				Path:    path + ".request.method",
				Message: fmt.Sprintf("invalid method: %s", tc.Request.Method),
			})
		}

		if tc.Expect != nil && tc.Expect.Schema != nil && tc.Expect.Schema.Name != "" {
			if _, ok := suite.Schemas[tc.Expect.Schema.Name]; !ok {
				errors = append(errors, ValidationError{
					Path:    path + ".expect.schema",
					Message: fmt.Sprintf("schema not found: %s", tc.Expect.Schema.Name),
				})
			}
		}

		if tc.Expect != nil {
			for j, ac := range tc.Expect.Asserts {
				errors = append(errors, validateAssert(fmt.Sprintf("%s.expect.asserts[%d]", path, j), &ac)...)
			}
		}

		if tc.Retry != nil {
			errors = append(errors, validateRetry(path+".retry", tc.Retry)...)
		}
	}

	return errors
}

func validateAssert(path string, ac *AssertConfig) []ValidationError {
	var errors []ValidationError

	switch strings.ToLower(ac.Source) {
	case "status":
	case "header", "jsonpath", "body":
		if ac.Path == "" {
			errors = append(errors, ValidationError{
				Path:    path + ".path",
				Message: "path is required",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Path:    path + ".source",
			Message: fmt.Sprintf("invalid source '%s', must be one of: status, header, jsonpath, body", ac.Source),
		})
	}

	switch strings.ToLower(ac.Condition) {
	case "", "eq", "equals", "exists", "contains", "matches", "is_array", "isarray", "min_length", "minlength":
	default:
		errors = append(errors, ValidationError{
			Path:    path + ".condition",
			Message: fmt.Sprintf("invalid condition '%s'", ac.Condition),
		})
	}

	if ac.Value == "" {
		switch strings.ToLower(ac.Condition) {
		case "exists", "is_array", "isarray":
		default:
			errors = append(errors, ValidationError{
				Path:    path + ".value",
				Message: "value is required",
			})
		}
	}

	return errors
}

func validateRetry(path string, retry *RetryConfig) []ValidationError {
	var errors []ValidationError

	if retry.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Path:    path + ".max_attempts",
			Message: "max_attempts must be at least 1",
		})
	}
	if retry.Multiplier < 0 {
		errors = append(errors, ValidationError{
			Path:    path + ".multiplier",
			Message: "multiplier cannot be negative",
		})
	}
	for _, status := range retry.OnStatus {
		if status < 100 || status > 599 {
			errors = append(errors, ValidationError{
				Path:    path + ".on_status",
				Message: fmt.Sprintf("invalid status code: %d", status),
			})
		}
	}

	return errors
}

// ValidateLoadPlan validates a performance plan. Validation runs on the
// plan as declared; Normalize applies defaults afterwards.
func ValidateLoadPlan(plan *LoadPlan) []ValidationError {
	var errors []ValidationError

	if plan.Pattern != "" && plan.Pattern != PatternConstant &&
		plan.Pattern != PatternRampUp && plan.Pattern != PatternSpike {
		errors = append(errors, ValidationError{
			Path: "load.pattern",
			Message: fmt.Sprintf("invalid pattern '%s', must be one of: %s",
				plan.Pattern, strings.Join([]string{PatternConstant, PatternRampUp, PatternSpike}, ", ")),
		})
	}

	if plan.Users < 1 {
		errors = append(errors, ValidationError{
			Path:    "load.users",
			Message: "users must be at least 1",
		})
	}
	if plan.Users > 10000 {
		errors = append(errors, ValidationError{
			Path:    "load.users",
			Message: "users cannot exceed 10000",
		})
	}

	if plan.Duration <= 0 {
		errors = append(errors, ValidationError{
			Path:    "load.duration",
			Message: "duration must be positive",
		})
	}

	if plan.Pattern == PatternRampUp {
		if plan.Ramp <= 0 {
			errors = append(errors, ValidationError{
				Path:    "load.ramp",
				Message: "ramp-up pattern requires a ramp duration",
			})
		} else if plan.Ramp > plan.Duration {
			errors = append(errors, ValidationError{
				Path:    "load.ramp",
				Message: "ramp cannot exceed the run duration",
			})
		}
	}

	if plan.SpikePeak < 0 {
		errors = append(errors, ValidationError{
			Path:    "load.spike_peak",
			Message: "spike_peak cannot be negative",
		})
	}
	if plan.Pattern == PatternSpike && plan.SpikeFor > 0 && plan.SpikeEvery > 0 &&
		plan.SpikeFor >= plan.SpikeEvery {
		errors = append(errors, ValidationError{
			Path:    "load.spike_for",
			Message: "spike_for must be shorter than spike_every",
		})
	}

	if plan.Rate < 0 {
		errors = append(errors, ValidationError{
			Path:    "load.rate",
			Message: "rate cannot be negative",
		})
	}
	if plan.SampleCap < 0 {
		errors = append(errors, ValidationError{
			Path:    "load.sample_cap",
			Message: "sample_cap cannot be negative",
		})
	}

	return errors
}

func validMethod(method string) bool {
	switch strings.ToUpper(method) {
	case "GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS":
		return true
	}
	return false
}
