package tracker

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// The tracker's payloads are validated once at the boundary so the rest of the
// pipeline only ever sees well-formed typed values.

const sectionListSchema = `{
	"type": "object",
	"required": ["data"],
	"properties": {
		"data": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["gid", "name"],
				"properties": {
					"gid": {"type": "string"},
					"name": {"type": "string"}
				}
			}
		},
		"next_page": {
			"type": ["object", "null"],
			"properties": {
				"offset": {"type": "string"}
			}
		}
	}
}`

const taskListSchema = `{
	"type": "object",
	"required": ["data"],
	"properties": {
		"data": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["gid", "name"],
				"properties": {
					"gid": {"type": "string"},
					"name": {"type": "string"},
					"notes": {"type": "string"},
					"completed": {"type": "boolean"},
					"completed_at": {"type": ["string", "null"]},
					"assignee": {
						"type": ["object", "null"],
						"properties": {
							"gid": {"type": "string"},
							"name": {"type": "string"}
						}
					},
					"start_on": {"type": ["string", "null"]},
					"due_on": {"type": ["string", "null"]},
					"num_subtasks": {"type": "integer", "minimum": 0},
					"permalink_url": {"type": ["string", "null"]}
				}
			}
		},
		"next_page": {
			"type": ["object", "null"],
			"properties": {
				"offset": {"type": "string"}
			}
		}
	}
}`

const userSchema = `{
	"type": "object",
	"required": ["data"],
	"properties": {
		"data": {
			"type": "object",
			"required": ["gid"],
			"properties": {
				"gid": {"type": "string"},
				"name": {"type": "string"},
				"email": {"type": ["string", "null"]}
			}
		}
	}
}`

type PayloadValidator struct {
	sectionList *jsonschema.Schema
	taskList    *jsonschema.Schema
	user        *jsonschema.Schema
}

func NewPayloadValidator() (*PayloadValidator, error) {
	sectionList, err := compileSchema("section_list.json", sectionListSchema)
	if err != nil {
		return nil, err
	}
	taskList, err := compileSchema("task_list.json", taskListSchema)
	if err != nil {
		return nil, err
	}
	user, err := compileSchema("user.json", userSchema)
	if err != nil {
		return nil, err
	}
	return &PayloadValidator{
		sectionList: sectionList,
		taskList:    taskList,
		user:        user,
	}, nil
}

func (v *PayloadValidator) ValidateSectionList(body []byte) error {
	return validate(v.sectionList, body)
}

func (v *PayloadValidator) ValidateTaskList(body []byte) error {
	return validate(v.taskList, body)
}

func (v *PayloadValidator) ValidateUser(body []byte) error {
	return validate(v.user, body)
}

func compileSchema(name, text string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

func validate(schema *jsonschema.Schema, body []byte) error {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return err
	}
	return schema.Validate(instance)
}
