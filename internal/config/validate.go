package config

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Severity of a validation Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one configuration problem.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidatePipeline checks struct tags and cross-field rules. It never fails
// fast; every issue found is returned.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []Issue{{Severity: SeverityError, Path: "pipeline", Message: err.Error()}}
		}
		for _, fe := range verrs {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fieldPath(fe.Namespace()),
				Message:  tagMessage(fe),
			})
		}
	}

	for _, entity := range Entities {
		src, _ := p.Sources.ByEntity(entity)
		if src.Path == "" || src.Format != "" {
			continue
		}
		if InferFormat(src.Path) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "sources." + entity + ".format",
				Message:  fmt.Sprintf("cannot infer format from %q; set csv or xlsx", src.Path),
			})
		}
	}

	if p.Metrics.Backend == "pushgateway" && p.Metrics.PushgatewayURL == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "metrics.pushgateway_url",
			Message:  "empty; http://localhost:9091 will be used",
		})
	}
	if p.Report.AMQP.URL == "" && (p.Report.AMQP.Exchange != "" || p.Report.AMQP.RoutingKey != "") {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "report.amqp.url",
			Message:  "exchange configured without url; publishing disabled",
		})
	}
	if p.Runtime.LoaderWorkers > 1 && p.Storage.Kind == "sqlite" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.loader_workers",
			Message:  "sqlite serializes writers; parallel fact chunks will queue",
		})
	}
	return issues
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// InferFormat maps a path extension to a source format ("" when unknown).
func InferFormat(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 && strings.Contains(p, "://") {
		p = p[:i]
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".csv", ".txt", ".tsv":
		return "csv"
	case ".xlsx", ".xlsm":
		return "xlsx"
	}
	return ""
}

// fieldPath turns "Pipeline.Sources.Sales.Path" into "sources.sales.path".
func fieldPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "url":
		return fmt.Sprintf("must be a URL, got %q", fmt.Sprint(fe.Value()))
	case "gte", "lte":
		return fmt.Sprintf("must be %s %s", fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}
