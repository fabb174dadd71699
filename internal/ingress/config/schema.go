package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/qri-io/jsonschema"
)

var configSchemaRaw = `
{
	"$defs": {
		"rule": {
			"type": "object",
			"properties": {
				"name": { "type": "string" },
				"type": {
					"type": "string",
					"enum": [ "redirect", "file" ]
				},
				"matcher": { "type": "string" },
				"target": { "type": "string", "minLength": 1 },
				"rewrite_origin": { "type": "boolean" },
				"insecure_skip_verify": { "type": "boolean" }
			},
			"required": [ "matcher", "target" ]
		}
	},
	"type": "object",
	"properties": {
		"listen_addr": { "type": "string" },
		"metrics_addr": { "type": "string" },
		"log_level": {
			"type": "string",
			"enum": [ "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled" ]
		},
		"log_format": {
			"type": "string",
			"enum": [ "console", "json" ]
		},
		"dial_timeout": { "type": "string" },
		"rules": {
			"type": "array",
			"minItems": 1,
			"items": {
				"$ref": "#/$defs/rule"
			}
		}
	},
	"required": [ "listen_addr", "rules" ]
}`

func keyError(errs []jsonschema.KeyError) error {
	s := strings.Builder{}
	for _, e := range errs {
		s.WriteString(fmt.Sprintf("%s\n", e.Error()))
	}
	return errors.New(strings.TrimSpace(s.String()))
}

func validateSchema(doc []byte) error {
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(configSchemaRaw), rs); err != nil {
		return fmt.Errorf("invalid JSON schema: %w", err)
	}

	keyErrs, err := rs.ValidateBytes(context.Background(), doc)
	if err != nil {
		return err
	}
	if len(keyErrs) != 0 {
		return keyError(keyErrs)
	}
	return nil
}
