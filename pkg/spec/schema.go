package spec

import (
	"regexp"
)

// identifierPattern constrains job, prerequisite, deployment and task role names.
const identifierPattern = `^[A-Za-z_-][A-Za-z0-9_-]*$`

var identifierRe = regexp.MustCompile(identifierPattern)

type kind string

const (
	kindObject  kind = "object"
	kindArray   kind = "array"
	kindString  kind = "string"
	kindInteger kind = "integer"
	kindNumber  kind = "number"
	kindScalar  kind = "string,number,boolean"
)

type property struct {
	name   string
	schema *schema
}

// schema is a small declarative rule set. Rules are evaluated in a fixed order
// so that diagnostics come out identically on every run.
type schema struct {
	kind kind

	// object rules
	required      []string
	properties    []property
	closed        bool
	values        *schema        // applies to keys not listed in properties
	keyPattern    *regexp.Regexp // dynamic keys must match when set
	minProperties int

	// array rules
	items    *schema
	minItems int

	// scalar rules
	enum    []any
	pattern *regexp.Regexp
	minimum *float64
}

func (s *schema) property(name string) *schema {
	for _, p := range s.properties {
		if p.name == name {
			return p.schema
		}
	}
	return nil
}

func atLeast(v float64) *float64 { return &v }

func stringSchema() *schema { return &schema{kind: kindString} }

func identifierSchema() *schema {
	return &schema{kind: kindString, pattern: identifierRe}
}

func commandListSchema(minItems int) *schema {
	return &schema{kind: kindArray, items: stringSchema(), minItems: minItems}
}

func prerequisiteSchema(bucket string) *schema {
	s := &schema{
		kind:     kindObject,
		closed:   true,
		required: []string{"name", "type"},
		properties: []property{
			{"protocolVersion", &schema{kind: kindInteger, enum: []any{ProtocolVersion}}},
			{"name", identifierSchema()},
			{"type", &schema{kind: kindString, enum: []any{bucket}}},
			{"version", stringSchema()},
			{"contributor", stringSchema()},
			{"description", stringSchema()},
			{"uri", stringSchema()},
		},
	}
	if bucket == PrerequisiteDockerImage {
		s.required = append(s.required, "uri")
	}
	return s
}

func prerequisitesSchema() *schema {
	s := &schema{kind: kindObject, closed: true}
	for _, bucket := range PrerequisiteTypes {
		s.properties = append(s.properties, property{bucket, &schema{
			kind:   kindObject,
			values: prerequisiteSchema(bucket),
		}})
	}
	return s
}

func taskRoleSchema() *schema {
	nonNegativeInt := func() *schema { return &schema{kind: kindInteger, minimum: atLeast(0)} }
	nonNegativeNumber := func() *schema { return &schema{kind: kindNumber, minimum: atLeast(0)} }
	return &schema{
		kind:     kindObject,
		closed:   true,
		required: []string{"dockerImage", "resourcePerInstance", "commands"},
		properties: []property{
			{"instances", &schema{kind: kindInteger, minimum: atLeast(1)}},
			{"completion", &schema{
				kind:   kindObject,
				closed: true,
				properties: []property{
					{"minSucceededTaskCount", nonNegativeInt()},
					{"minFailedTaskCount", nonNegativeInt()},
				},
			}},
			{"dockerImage", stringSchema()},
			{"resourcePerInstance", &schema{
				kind:     kindObject,
				closed:   true,
				required: []string{"cpu", "memoryMB", "gpu"},
				properties: []property{
					{"cpu", nonNegativeNumber()},
					{"memoryMB", nonNegativeNumber()},
					{"gpu", nonNegativeNumber()},
				},
			}},
			{"commands", commandListSchema(1)},
			{"entrypoint", stringSchema()},
		},
	}
}

func deploymentSchema() *schema {
	return &schema{
		kind:     kindObject,
		closed:   true,
		required: []string{"name", "taskRoles"},
		properties: []property{
			{"name", identifierSchema()},
			{"taskRoles", &schema{
				kind: kindObject,
				values: &schema{
					kind:   kindObject,
					closed: true,
					properties: []property{
						{"preCommands", commandListSchema(0)},
						{"postCommands", commandListSchema(0)},
					},
				},
			}},
		},
	}
}

// documentSchema is the structural schema of a protocol document, in
// declaration order.
var documentSchema = &schema{
	kind:     kindObject,
	closed:   true,
	required: []string{"protocolVersion", "name", "type", "taskRoles"},
	properties: []property{
		{"protocolVersion", &schema{kind: kindInteger, enum: []any{ProtocolVersion}}},
		{"name", identifierSchema()},
		{"type", &schema{kind: kindString, enum: []any{"job"}}},
		{"version", stringSchema()},
		{"contributor", stringSchema()},
		{"description", stringSchema()},
		{"parameters", &schema{kind: kindObject, values: &schema{kind: kindScalar}}},
		{"prerequisites", prerequisitesSchema()},
		{"taskRoles", &schema{
			kind:          kindObject,
			closed:        true,
			keyPattern:    identifierRe,
			minProperties: 1,
			values:        taskRoleSchema(),
		}},
		{"deployments", &schema{kind: kindObject, values: deploymentSchema()}},
		{"defaults", &schema{
			kind:   kindObject,
			closed: true,
			properties: []property{
				{"deployment", stringSchema()},
				{"virtualCluster", stringSchema()},
			},
		}},
	},
}

// SchemaDescription renders the structural schema as a JSON-Schema-like tree,
// suitable for publishing to clients.
func SchemaDescription() map[string]any {
	return describe(documentSchema)
}

func describe(s *schema) map[string]any {
	out := map[string]any{"type": string(s.kind)}
	if s.kind == kindScalar {
		out["type"] = []any{"string", "number", "boolean"}
	}
	if len(s.required) > 0 {
		out["required"] = toAnySlice(s.required)
	}
	if len(s.properties) > 0 {
		props := make(map[string]any, len(s.properties))
		for _, p := range s.properties {
			props[p.name] = describe(p.schema)
		}
		out["properties"] = props
	}
	if s.values != nil {
		if s.keyPattern != nil {
			out["patternProperties"] = map[string]any{s.keyPattern.String(): describe(s.values)}
		} else {
			out["additionalProperties"] = describe(s.values)
		}
	}
	if s.closed && s.values == nil {
		out["additionalProperties"] = false
	} else if s.closed && s.keyPattern != nil {
		out["additionalProperties"] = false
	}
	if s.minProperties > 0 {
		out["minProperties"] = s.minProperties
	}
	if s.items != nil {
		out["items"] = describe(s.items)
	}
	if s.minItems > 0 {
		out["minItems"] = s.minItems
	}
	if len(s.enum) > 0 {
		out["enum"] = append([]any(nil), s.enum...)
	}
	if s.pattern != nil {
		out["pattern"] = s.pattern.String()
	}
	if s.minimum != nil {
		out["minimum"] = *s.minimum
	}
	return out
}
