package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const createOrderSchema = `{
  "type": "object",
  "required": ["symbol", "side", "type", "qty"],
  "additionalProperties": false,
  "properties": {
    "symbol": {"type": "string", "minLength": 1, "maxLength": 16},
    "side": {"type": "string", "minLength": 1},
    "type": {"type": "string", "minLength": 1},
    "qty": {"type": ["number", "string"]},
    "time_in_force": {"type": "string"},
    "limit_price": {"type": ["number", "string", "null"]},
    "stop_price": {"type": ["number", "string", "null"]},
    "account_commissioner": {"type": ["string", "null"]}
  }
}`

const updateCommissionSchema = `{
  "type": "object",
  "required": ["percent_value"],
  "additionalProperties": false,
  "properties": {
    "percent_value": {"type": "number", "minimum": 0, "maximum": 0.99}
  }
}`

type schemaSet struct {
	once    sync.Once
	err     error
	schemas map[string]*jsonschema.Schema
}

var requestSchemas schemaSet

func (s *schemaSet) get(name string) (*jsonschema.Schema, error) {
	s.once.Do(func() {
		s.schemas = make(map[string]*jsonschema.Schema)
		compiler := jsonschema.NewCompiler()
		for file, src := range map[string]string{
			"create_order.json":      createOrderSchema,
			"update_commission.json": updateCommissionSchema,
		} {
			if err := compiler.AddResource(file, strings.NewReader(src)); err != nil {
				s.err = err
				return
			}
		}
		for _, file := range []string{"create_order.json", "update_commission.json"} {
			sch, err := compiler.Compile(file)
			if err != nil {
				s.err = err
				return
			}
			s.schemas[file] = sch
		}
	})
	if s.err != nil {
		return nil, s.err
	}
	sch, ok := s.schemas[name]
	if !ok {
		return nil, fmt.Errorf("schema %s not registered", name)
	}
	return sch, nil
}

// validateBody 校验原始请求体；错误信息只保留最具体的一条。
func validateBody(schema string, raw []byte) error {
	sch, err := requestSchemas.get(schema)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("request body is not valid JSON: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("%s", leafMessage(verr))
		}
		return err
	}
	return nil
}

func leafMessage(v *jsonschema.ValidationError) string {
	for len(v.Causes) > 0 {
		v = v.Causes[0]
	}
	loc := strings.TrimPrefix(v.InstanceLocation, "/")
	if loc == "" {
		return v.Message
	}
	return loc + ": " + v.Message
}
