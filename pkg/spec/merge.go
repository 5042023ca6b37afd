package spec

import (
	"fmt"
	"strings"
)

// ActiveDeployment picks the deployment to merge: the explicit selection,
// else defaults.deployment, else none (empty name).
func ActiveDeployment(doc *Document, selected string) (string, error) {
	name := selected
	if name == "" {
		name, _ = doc.DefaultDeployment()
	}
	if name == "" {
		return "", nil
	}
	if _, ok := doc.Deployment(name); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDeployment, name)
	}
	return name, nil
}

// Merge computes every task role's entrypoint. When a deployment is active
// its preCommands are placed before and its postCommands after the role's
// own commands. It returns the name of the active deployment.
//
// Merge must run after Render so that entrypoints carry resolved commands.
func Merge(doc *Document, selected string) (string, error) {
	active, err := ActiveDeployment(doc, selected)
	if err != nil {
		return "", err
	}
	var dep Deployment
	if active != "" {
		dep, _ = doc.Deployment(active)
	}

	for _, name := range doc.TaskRoleNames() {
		role, ok := doc.TaskRole(name)
		if !ok {
			continue
		}
		var final []string
		if active != "" {
			final = append(final, dep.PreCommands(name)...)
		}
		final = append(final, role.Commands()...)
		if active != "" {
			final = append(final, dep.PostCommands(name)...)
		}
		role.setEntrypoint(Entrypoint(final))
	}
	return active, nil
}

// Entrypoint joins commands into a script, one command per line.
func Entrypoint(commands []string) string {
	var b strings.Builder
	for _, c := range commands {
		b.WriteString(c)
		b.WriteByte('\n')
	}
	return b.String()
}
