// Package validate checks request bodies against the JSON schemas embedded
// in schemas/, one per remote operation.
package validate

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/makerhub/backend/internal/apperr"
)

// Operations with a schema.
const (
	ApplyTransaction       = "apply_transaction"
	RedeemGiftCard         = "redeem_gift_card"
	AdminAdjustCredits     = "admin_adjust_credits"
	MakerUpdateOrderStatus = "maker_update_order_status"
	CreateOrder            = "create_order"
	IssueGiftCard          = "issue_gift_card"
	AssignMaker            = "assign_maker"
	Reason                 = "reason"
)

// ErrValidation is wrapped by every rejection so callers can use errors.Is.
var ErrValidation = apperr.New(apperr.KindValidation, "invalid_request", "request body failed validation")

//go:embed schemas/*.json
var schemaFS embed.FS

type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// New compiles every embedded schema.
func New() (*Validator, error) {
	files, err := fs.Glob(schemaFS, "schemas/*.json")
	if err != nil {
		return nil, err
	}
	schemas := make(map[string]*jsonschema.Schema, len(files))
	for _, name := range files {
		data, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", name, err)
		}
		op := strings.TrimSuffix(strings.TrimPrefix(name, "schemas/"), ".json")
		schemas[op], err = jsonschema.CompileString("https://makerhub.dev/schemas/"+op+".json", string(data))
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", op, err)
		}
	}
	return &Validator{schemas: schemas}, nil
}

// Error lists each violated constraint as "location: message".
type Error struct {
	Op       string
	Problems []string
}

func (e *Error) Error() string {
	return e.Op + ": " + strings.Join(e.Problems, "; ")
}

func (e *Error) Unwrap() error { return ErrValidation }

// Validate rejects body unless it is JSON matching the operation's schema.
func (v *Validator) Validate(op string, body []byte) error {
	schema, ok := v.schemas[op]
	if !ok {
		return fmt.Errorf("no schema for operation %q", op)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return &Error{Op: op, Problems: []string{"body is not valid JSON"}}
	}
	if dec.More() {
		return &Error{Op: op, Problems: []string{"body must be a single JSON value"}}
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &Error{Op: op, Problems: leafProblems(ve)}
		}
		return &Error{Op: op, Problems: []string{err.Error()}}
	}
	return nil
}

func leafProblems(ve *jsonschema.ValidationError) []string {
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(out)
	return out
}
