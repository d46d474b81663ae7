// Package validator provides input validation for ingestion requests. It
// enforces id, title and body length constraints and returns per-field
// error details.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/ingestion"
)

const (
	maxIDLength    = 255
	maxTitleLength = 1024
	maxBodyLength  = 1 << 20
	maxFields      = 32
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// ValidateIngestRequest checks that the request carries indexable text
// within the length limits and returns a ValidationError if not.
func ValidateIngestRequest(req *ingestion.IngestRequest) error {
	errs := make(map[string]string)

	if len(req.ID) > maxIDLength {
		errs["id"] = fmt.Sprintf("id must be at most %d characters", maxIDLength)
	}
	if len(req.Title) > maxTitleLength {
		errs["title"] = fmt.Sprintf("title must be at most %d characters", maxTitleLength)
	}
	if len(req.Fields) > 0 {
		if len(req.Fields) > maxFields {
			errs["fields"] = fmt.Sprintf("at most %d fields are allowed", maxFields)
		}
		empty := true
		for name, text := range req.Fields {
			if name == "" || strings.ContainsAny(name, ":^ ") {
				errs["fields"] = fmt.Sprintf("invalid field name %q", name)
			}
			if len(text) > maxBodyLength {
				errs["fields"] = fmt.Sprintf("field %q must be at most %d characters", name, maxBodyLength)
			}
			if strings.TrimSpace(text) != "" {
				empty = false
			}
		}
		if empty {
			errs["fields"] = "at least one field must have text"
		}
	} else {
		if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Body) == "" {
			errs["body"] = "title or body is required"
		} else if len(req.Body) > maxBodyLength {
			errs["body"] = fmt.Sprintf("body must be at most %d characters", maxBodyLength)
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
