// Package llm is the document understanding adapter: request/outcome contract,
// response schema, normalization and the provider clients.
package llm

import (
	"context"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docscan/internal/entity"
)

// Request is the whole-document input of one understanding call.
type Request struct {
	DocumentID uuid.UUID
	Filename   string
	Text       string             // page texts joined by constants.PageBreak
	FirstPage  *entity.PageImage // optional vision input
}

type OutcomeKind int

const (
	Parsed OutcomeKind = iota
	SchemaInvalid
	Unconfigured
)

func (k OutcomeKind) String() string {
	switch k {
	case Parsed:
		return "parsed"
	case SchemaInvalid:
		return "schema_invalid"
	case Unconfigured:
		return "unconfigured"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of an understanding call. Result is set only for
// Parsed; Reason explains SchemaInvalid and Unconfigured.
type Outcome struct {
	Kind   OutcomeKind
	Result *entity.Understanding
	Raw    []byte // validated JSON for Parsed, offending content for SchemaInvalid
	Reason string
}

// Understander is what the pipeline depends on. Transport failures are returned
// as errors (transient or permanent engine errors); content problems come back as
// an Outcome.
type Understander interface {
	Understand(ctx context.Context, req Request) (Outcome, error)
}

// Disabled always reports Unconfigured.
type Disabled struct {
	Reason string
}

func (d Disabled) Understand(context.Context, Request) (Outcome, error) {
	reason := d.Reason
	if reason == "" {
		reason = "understanding disabled"
	}
	return Outcome{Kind: Unconfigured, Reason: reason}, nil
}
