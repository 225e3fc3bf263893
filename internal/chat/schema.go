package chat

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed batch_schema.json
var batchSchemaJSON []byte

var batchSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(batchSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse batch schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("batch.json", doc); err != nil {
		return nil, fmt.Errorf("add batch schema: %w", err)
	}
	return c.Compile("batch.json")
})

var schemaPrinter = message.NewPrinter(language.English)

// BatchRequest is the body of a batch write.
type BatchRequest struct {
	Messages     []CandidateMessage `json:"messages"`
	OperationID  string             `json:"operation_id"`
	RelanceIndex int                `json:"relance_index"`
}

// DecodeBatchRequest validates raw against the batch schema and decodes it.
// Every schema violation is reported in one *SchemaError.
func DecodeBatchRequest(raw []byte) (BatchRequest, error) {
	sch, err := batchSchema()
	if err != nil {
		return BatchRequest{}, err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return BatchRequest{}, &SchemaError{Violations: []Violation{{
			Index: -1, Field: "body", Rule: "json", Message: err.Error(),
		}}}
	}

	if err := sch.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return BatchRequest{}, err
		}
		var vs []Violation
		collectViolations(ve, &vs)
		return BatchRequest{}, &SchemaError{Violations: vs}
	}

	var req BatchRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return BatchRequest{}, &SchemaError{Violations: []Violation{{
			Index: -1, Field: "body", Rule: "json", Message: err.Error(),
		}}}
	}
	return req, nil
}

func collectViolations(ve *jsonschema.ValidationError, out *[]Violation) {
	if len(ve.Causes) > 0 {
		for _, c := range ve.Causes {
			collectViolations(c, out)
		}
		return
	}

	v := Violation{
		Index: -1,
		Field: "/" + strings.Join(ve.InstanceLocation, "/"),
		Rule:  "schema",
	}
	if len(ve.InstanceLocation) >= 2 && ve.InstanceLocation[0] == "messages" {
		if n, err := strconv.Atoi(ve.InstanceLocation[1]); err == nil {
			v.Index = n
		}
	}
	if ve.ErrorKind != nil {
		if kw := ve.ErrorKind.KeywordPath(); len(kw) > 0 {
			v.Rule = strings.Join(kw, "/")
		}
		v.Message = ve.ErrorKind.LocalizedString(schemaPrinter)
	} else {
		v.Message = ve.Error()
	}
	*out = append(*out, v)
}
