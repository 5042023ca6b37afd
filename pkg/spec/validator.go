package spec

import (
	"fmt"
	"strings"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string `json:"field" yaml:"field"`
	Keyword string `json:"keyword" yaml:"keyword"`
	Message string `json:"message" yaml:"message"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult holds all validation errors for a document.
type ValidationResult struct {
	Errors []ValidationError
}

// Valid returns true if no validation errors were found.
func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// First returns the first diagnostic, or the zero value for a valid result.
func (r ValidationResult) First() ValidationError {
	if r.Valid() {
		return ValidationError{}
	}
	return r.Errors[0]
}

// Error returns a combined error message from all validation errors.
func (r ValidationResult) Error() string {
	if r.Valid() {
		return ""
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
}

// Validator checks a Document against the structural schema and the
// cross-reference rules a generic schema cannot express. A Validator keeps
// the diagnostics of its last run and must not be shared between goroutines.
type Validator struct {
	// CheckParameterRefs enables placeholder syntax and parameter reference
	// checks on task role commands.
	CheckParameterRefs bool

	errors []ValidationError
}

// NewValidator returns a Validator with every rule enabled.
func NewValidator() *Validator {
	return &Validator{CheckParameterRefs: true}
}

// Validate reports whether doc satisfies every rule. The failures are
// available from Errors until the next call.
func (v *Validator) Validate(doc *Document) bool {
	v.errors = nil
	w := &walker{doc: doc}
	w.check("", doc.tree, documentSchema)

	v.errors = append(v.errors, w.errors...)
	v.errors = append(v.errors, checkDockerImages(doc)...)
	v.errors = append(v.errors, checkDeploymentRoles(doc)...)
	v.errors = append(v.errors, checkDefaultDeployment(doc)...)
	if v.CheckParameterRefs {
		v.errors = append(v.errors, checkPlaceholders(doc)...)
	}
	return len(v.errors) == 0
}

// Errors returns the ordered diagnostics of the last Validate call.
func (v *Validator) Errors() []ValidationError {
	return append([]ValidationError(nil), v.errors...)
}

// ValidateDocument runs every rule against doc.
func ValidateDocument(doc *Document) ValidationResult {
	v := NewValidator()
	v.Validate(doc)
	return ValidationResult{Errors: v.Errors()}
}

// walker applies a schema to the generic tree.
type walker struct {
	doc    *Document
	errors []ValidationError
}

func (w *walker) add(path, keyword, message string) {
	w.errors = append(w.errors, ValidationError{Field: path, Keyword: keyword, Message: message})
}

func (w *walker) check(path string, v any, s *schema) {
	// Normalization issues belong to the property whose sequence form was
	// collapsed into a mapping.
	w.errors = append(w.errors, w.doc.issues[path]...)

	if !matchesKind(v, s.kind) {
		w.add(path, "type", "should be "+string(s.kind))
		return
	}
	switch s.kind {
	case kindObject:
		w.checkObject(path, v.(map[string]any), s)
	case kindArray:
		w.checkArray(path, v.([]any), s)
	default:
		w.checkScalar(path, v, s)
	}
}

func (w *walker) checkObject(path string, m map[string]any, s *schema) {
	for _, key := range s.required {
		if _, ok := m[key]; !ok {
			w.add(path, "required", fmt.Sprintf("should have required property '%s'", key))
		}
	}

	var dynamic []string
	for _, key := range sortedKeys(m) {
		if s.property(key) != nil {
			continue
		}
		if s.values != nil && (s.keyPattern == nil || s.keyPattern.MatchString(key)) {
			dynamic = append(dynamic, key)
			continue
		}
		if s.closed || s.values != nil {
			w.add(path+"."+key, "additionalProperties", "should NOT have additional properties")
		}
	}

	if s.minProperties > 0 && len(m) < s.minProperties {
		w.add(path, "minProperties", fmt.Sprintf("should NOT have fewer than %d properties", s.minProperties))
	}

	for _, p := range s.properties {
		if v, ok := m[p.name]; ok {
			w.check(path+"."+p.name, v, p.schema)
		}
	}
	for _, key := range dynamic {
		w.check(path+"."+key, m[key], s.values)
	}
}

func (w *walker) checkArray(path string, items []any, s *schema) {
	if len(items) < s.minItems {
		w.add(path, "minItems", fmt.Sprintf("should NOT have fewer than %d items", s.minItems))
	}
	if s.items == nil {
		return
	}
	for i, item := range items {
		w.check(fmt.Sprintf("%s[%d]", path, i), item, s.items)
	}
}

func (w *walker) checkScalar(path string, v any, s *schema) {
	if len(s.enum) > 0 {
		found := false
		for _, allowed := range s.enum {
			if equalValue(v, allowed) {
				found = true
				break
			}
		}
		if !found {
			w.add(path, "enum", "should be equal to one of the allowed values")
		}
	}
	if s.pattern != nil {
		if str, ok := v.(string); ok && !s.pattern.MatchString(str) {
			w.add(path, "pattern", fmt.Sprintf("should match pattern \"%s\"", s.pattern.String()))
		}
	}
	if s.minimum != nil {
		if f, ok := toFloat(v); ok && f < *s.minimum {
			w.add(path, "minimum", fmt.Sprintf("should be >= %v", *s.minimum))
		}
	}
}

func matchesKind(v any, k kind) bool {
	switch k {
	case kindObject:
		_, ok := v.(map[string]any)
		return ok
	case kindArray:
		_, ok := v.([]any)
		return ok
	case kindString:
		_, ok := v.(string)
		return ok
	case kindInteger:
		return isInteger(v)
	case kindNumber:
		return isNumber(v)
	case kindScalar:
		switch v.(type) {
		case string, bool:
			return true
		}
		return isNumber(v)
	}
	return false
}

// checkDockerImages requires every task role image to be a declared
// dockerimage prerequisite.
func checkDockerImages(doc *Document) []ValidationError {
	var errs []ValidationError
	for _, name := range doc.TaskRoleNames() {
		role, ok := doc.TaskRole(name)
		if !ok {
			continue
		}
		image, ok := role.DockerImage()
		if !ok || doc.HasPrerequisite(PrerequisiteDockerImage, image) {
			continue
		}
		errs = append(errs, ValidationError{
			Field:   ".taskRoles." + name + ".dockerImage",
			Keyword: "reference",
			Message: fmt.Sprintf("docker image %q is not declared in prerequisites.%s", image, PrerequisiteDockerImage),
		})
	}
	return errs
}

func checkDeploymentRoles(doc *Document) []ValidationError {
	var errs []ValidationError
	for _, name := range doc.DeploymentNames() {
		dep, ok := doc.Deployment(name)
		if !ok {
			continue
		}
		for _, role := range dep.RoleNames() {
			if _, ok := doc.TaskRole(role); ok {
				continue
			}
			errs = append(errs, ValidationError{
				Field:   ".deployments." + name + ".taskRoles." + role,
				Keyword: "reference",
				Message: fmt.Sprintf("task role %q in deployment %q is not declared in taskRoles", role, name),
			})
		}
	}
	return errs
}

func checkDefaultDeployment(doc *Document) []ValidationError {
	name, ok := doc.DefaultDeployment()
	if !ok {
		return nil
	}
	if _, ok := doc.Deployment(name); ok {
		return nil
	}
	return []ValidationError{{
		Field:   ".defaults.deployment",
		Keyword: "reference",
		Message: fmt.Sprintf("default deployment %q is not declared in deployments", name),
	}}
}

// checkPlaceholders parses every command template and requires each
// referenced parameter to be declared.
func checkPlaceholders(doc *Document) []ValidationError {
	var errs []ValidationError
	params := doc.Parameters()
	for _, name := range doc.TaskRoleNames() {
		role, ok := doc.TaskRole(name)
		if !ok {
			continue
		}
		items, _ := asSlice(role.fields["commands"])
		for i, item := range items {
			cmd, ok := item.(string)
			if !ok {
				continue
			}
			field := fmt.Sprintf(".taskRoles.%s.commands[%d]", name, i)
			tmpl, err := ParseTemplate(cmd)
			if err != nil {
				errs = append(errs, ValidationError{Field: field, Keyword: "template", Message: err.Error()})
				continue
			}
			for _, ref := range tmpl.References() {
				if _, ok := params[ref[0]]; ok {
					continue
				}
				errs = append(errs, ValidationError{
					Field:   field,
					Keyword: "reference",
					Message: fmt.Sprintf("parameter %q is not declared in parameters", ref[0]),
				})
			}
		}
	}
	return errs
}
