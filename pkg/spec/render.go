package spec

import (
	"fmt"
	"strings"
)

// Render expands the placeholders in every task role command using overrides
// first and the document's declared parameter defaults second.
//
// Every substitution is computed before any is applied, so on error the
// document is left exactly as it was. Rendering a document that has no
// placeholders left is a no-op apart from filling defaults.
func Render(doc *Document, overrides map[string]any) error {
	values := resolveParameters(doc.Parameters(), overrides)

	type pending struct {
		role     TaskRole
		commands []string
	}
	var changes []pending

	for _, name := range doc.TaskRoleNames() {
		role, ok := doc.TaskRole(name)
		if !ok {
			continue
		}
		commands := role.Commands()
		rendered := make([]string, len(commands))
		for i, cmd := range commands {
			field := fmt.Sprintf(".taskRoles.%s.commands[%d]", name, i)
			out, err := renderString(cmd, values, field)
			if err != nil {
				return err
			}
			rendered[i] = out
		}
		changes = append(changes, pending{role: role, commands: rendered})
	}

	for _, c := range changes {
		c.role.setCommands(c.commands)
		if _, ok := c.role.fields["instances"]; !ok {
			c.role.fields["instances"] = 1
		}
	}
	if declared := doc.Parameters(); declared != nil {
		for name := range declared {
			if v, ok := overrides[name]; ok {
				declared[name] = v
			}
		}
	}
	return nil
}

// RenderString expands the placeholders of a single string.
func RenderString(s string, values map[string]any) (string, error) {
	return renderString(s, values, "")
}

func renderString(s string, values map[string]any, field string) (string, error) {
	if !strings.Contains(s, OpenMarker) {
		return s, nil
	}
	// A value may itself contain the open marker; the rendered text must
	// survive another pass unchanged.
	tmpl, err := parseTemplate(s, true)
	if err != nil {
		return "", &RenderError{Field: field, Msg: err.Error()}
	}
	return tmpl.Execute(func(path []string) (string, error) {
		v, err := lookupParameter(values, path)
		if err != nil {
			return "", &RenderError{Field: field, Msg: err.Error()}
		}
		return v, nil
	})
}

// resolveParameters overlays request overrides on the declared defaults.
func resolveParameters(declared, overrides map[string]any) map[string]any {
	values := make(map[string]any, len(declared)+len(overrides))
	for k, v := range declared {
		values[k] = v
	}
	for k, v := range overrides {
		values[k] = v
	}
	return values
}

func lookupParameter(values map[string]any, path []string) (string, error) {
	ref := ParametersRoot + "." + strings.Join(path, ".")
	var cur any = values
	for _, seg := range path {
		m, ok := asMap(cur)
		if !ok {
			return "", fmt.Errorf("%s: %s is not a mapping", ref, seg)
		}
		v, ok := m[seg]
		if !ok {
			return "", fmt.Errorf("%s is not defined", ref)
		}
		cur = v
	}
	s, ok := formatScalar(cur)
	if !ok {
		return "", fmt.Errorf("%s does not resolve to a scalar", ref)
	}
	return s, nil
}
