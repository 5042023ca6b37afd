package spec

import (
	"fmt"
	"strconv"
	"strings"
)

// ProtocolVersion is the only protocol version this compiler accepts.
const ProtocolVersion = 2

// Prerequisite buckets.
const (
	PrerequisiteDockerImage = "dockerimage"
	PrerequisiteScript      = "script"
	PrerequisiteOutput      = "output"
	PrerequisiteData        = "data"
)

// PrerequisiteTypes lists the prerequisite buckets in declaration order.
var PrerequisiteTypes = []string{
	PrerequisiteDockerImage,
	PrerequisiteScript,
	PrerequisiteOutput,
	PrerequisiteData,
}

// Document is a parsed job protocol document. It wraps the generic tree
// produced by the parser after sequence forms of prerequisites, taskRoles and
// deployments have been normalized into mappings.
//
// Accessors never fail: absent or malformed values come back as zero values
// and are left for the validator to report.
type Document struct {
	tree map[string]any

	// issues found while normalizing, keyed by the data path of the owning
	// property (".prerequisites", ".taskRoles", ".deployments").
	issues map[string][]ValidationError
}

// NewDocument deep-copies tree and normalizes it. The caller's tree is never
// modified.
func NewDocument(tree map[string]any) *Document {
	d := &Document{
		tree:   deepCopyMap(tree),
		issues: make(map[string][]ValidationError),
	}
	if d.tree == nil {
		d.tree = make(map[string]any)
	}
	d.normalize()
	return d
}

// Clone returns an independent copy of the document.
func (d *Document) Clone() *Document {
	issues := make(map[string][]ValidationError, len(d.issues))
	for k, v := range d.issues {
		issues[k] = append([]ValidationError(nil), v...)
	}
	return &Document{tree: deepCopyMap(d.tree), issues: issues}
}

// Tree returns a copy of the canonical nested map.
func (d *Document) Tree() map[string]any {
	return deepCopyMap(d.tree)
}

// Name returns the document name, or "" when it is missing or not a string.
func (d *Document) Name() string {
	s, _ := asString(d.tree["name"])
	return s
}

// ProtocolVersion returns the declared protocol version.
func (d *Document) ProtocolVersion() (int, bool) {
	v, ok := d.tree["protocolVersion"]
	if !ok || !isInteger(v) {
		return 0, false
	}
	f, _ := toFloat(v)
	return int(f), true
}

// Parameters returns the declared parameter defaults, or nil.
func (d *Document) Parameters() map[string]any {
	m, _ := asMap(d.tree["parameters"])
	return m
}

// Prerequisites returns the declarations in one bucket keyed by name.
func (d *Document) Prerequisites(bucket string) map[string]map[string]any {
	buckets, ok := asMap(d.tree["prerequisites"])
	if !ok {
		return nil
	}
	entries, ok := asMap(buckets[bucket])
	if !ok {
		return nil
	}
	out := make(map[string]map[string]any, len(entries))
	for name, v := range entries {
		if m, ok := asMap(v); ok {
			out[name] = m
		}
	}
	return out
}

// HasPrerequisite reports whether a prerequisite with the given name is
// declared in bucket.
func (d *Document) HasPrerequisite(bucket, name string) bool {
	_, ok := d.Prerequisites(bucket)[name]
	return ok
}

// TaskRoleNames returns the task role names in sorted order.
func (d *Document) TaskRoleNames() []string {
	roles, ok := asMap(d.tree["taskRoles"])
	if !ok {
		return nil
	}
	return sortedKeys(roles)
}

// TaskRole returns a view over one task role. Changes made through the view
// are applied to the document.
func (d *Document) TaskRole(name string) (TaskRole, bool) {
	roles, ok := asMap(d.tree["taskRoles"])
	if !ok {
		return TaskRole{}, false
	}
	fields, ok := asMap(roles[name])
	if !ok {
		return TaskRole{}, false
	}
	return TaskRole{Name: name, fields: fields}, true
}

// DeploymentNames returns the deployment names in sorted order.
func (d *Document) DeploymentNames() []string {
	deployments, ok := asMap(d.tree["deployments"])
	if !ok {
		return nil
	}
	return sortedKeys(deployments)
}

// Deployment returns a view over the named deployment.
func (d *Document) Deployment(name string) (Deployment, bool) {
	deployments, ok := asMap(d.tree["deployments"])
	if !ok {
		return Deployment{}, false
	}
	fields, ok := asMap(deployments[name])
	if !ok {
		return Deployment{}, false
	}
	return Deployment{Name: name, fields: fields}, true
}

// DefaultDeployment returns defaults.deployment when it is set.
func (d *Document) DefaultDeployment() (string, bool) {
	defaults, ok := asMap(d.tree["defaults"])
	if !ok {
		return "", false
	}
	name, ok := asString(defaults["deployment"])
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// TaskRole is a view over one entry of taskRoles.
type TaskRole struct {
	Name   string
	fields map[string]any
}

// DockerImage returns the name of the dockerimage prerequisite the role runs.
func (r TaskRole) DockerImage() (string, bool) {
	return asString(r.fields["dockerImage"])
}

// Commands returns the string items of the role's commands.
func (r TaskRole) Commands() []string {
	return stringList(r.fields["commands"])
}

// Entrypoint returns the computed entrypoint, or "" before merging.
func (r TaskRole) Entrypoint() string {
	s, _ := asString(r.fields["entrypoint"])
	return s
}

// Instances returns the declared instance count, or 0 when absent.
func (r TaskRole) Instances() int {
	f, _ := toFloat(r.fields["instances"])
	return int(f)
}

func (r TaskRole) setCommands(commands []string) {
	r.fields["commands"] = toAnySlice(commands)
}

func (r TaskRole) setEntrypoint(entrypoint string) {
	r.fields["entrypoint"] = entrypoint
}

// Deployment is a view over one entry of deployments.
type Deployment struct {
	Name   string
	fields map[string]any
}

// RoleNames returns the task roles this deployment overrides, sorted.
func (d Deployment) RoleNames() []string {
	roles, ok := asMap(d.fields["taskRoles"])
	if !ok {
		return nil
	}
	return sortedKeys(roles)
}

// PreCommands returns the commands run before the role's own commands.
func (d Deployment) PreCommands(role string) []string {
	return d.roleList(role, "preCommands")
}

// PostCommands returns the commands run after the role's own commands.
func (d Deployment) PostCommands(role string) []string {
	return d.roleList(role, "postCommands")
}

func (d Deployment) roleList(role, key string) []string {
	roles, ok := asMap(d.fields["taskRoles"])
	if !ok {
		return nil
	}
	override, ok := asMap(roles[role])
	if !ok {
		return nil
	}
	return stringList(override[key])
}

func (d *Document) addIssue(owner, field, keyword, message string) {
	d.issues[owner] = append(d.issues[owner], ValidationError{
		Field:   field,
		Keyword: keyword,
		Message: message,
	})
}

func (d *Document) normalize() {
	if s, ok := asString(d.tree["protocolVersion"]); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			d.tree["protocolVersion"] = n
		}
	}
	coerceVersion(d.tree)
	d.normalizePrerequisites()
	d.normalizeTaskRoles()
	d.normalizeDeployments()
}

// coerceVersion turns a numeric version such as `1.0` into its string form.
func coerceVersion(m map[string]any) {
	v, ok := m["version"]
	if !ok || !isNumber(v) {
		return
	}
	s, _ := formatScalar(v)
	m["version"] = s
}

func (d *Document) normalizePrerequisites() {
	const owner = ".prerequisites"
	switch raw := d.tree["prerequisites"].(type) {
	case []any:
		buckets := make(map[string]any)
		for i, item := range raw {
			path := fmt.Sprintf("%s[%d]", owner, i)
			entry, ok := asMap(item)
			if !ok {
				d.addIssue(owner, path, "type", "should be object")
				continue
			}
			typ, ok := asString(entry["type"])
			if !ok {
				d.addIssue(owner, path, "required", "should have required property 'type'")
				continue
			}
			name, ok := d.elementName(owner, path, entry)
			if !ok {
				continue
			}
			if !isPrerequisiteType(typ) {
				d.addIssue(owner, path+".type", "enum", "should be equal to one of the allowed values")
				continue
			}
			bucket, _ := asMap(buckets[typ])
			if bucket == nil {
				bucket = make(map[string]any)
				buckets[typ] = bucket
			}
			if _, dup := bucket[name]; dup {
				d.addIssue(owner, path+".name", "unique",
					fmt.Sprintf("duplicate %s prerequisite name %q", typ, name))
				continue
			}
			coerceVersion(entry)
			bucket[name] = entry
		}
		d.tree["prerequisites"] = buckets
	case map[string]any:
		for _, typ := range sortedKeys(raw) {
			bucket, ok := asMap(raw[typ])
			if !ok {
				continue
			}
			for _, key := range sortedKeys(bucket) {
				entry, ok := asMap(bucket[key])
				if !ok {
					continue
				}
				if name, ok := entry["name"]; !ok {
					entry["name"] = key
				} else if name != key {
					d.addIssue(owner, owner+"."+typ+"."+key+".name", "const",
						fmt.Sprintf("%s prerequisite name %v does not match its key %q", typ, name, key))
				}
				if _, ok := entry["type"]; !ok {
					entry["type"] = typ
				}
				coerceVersion(entry)
			}
		}
	}
}

func (d *Document) normalizeTaskRoles() {
	const owner = ".taskRoles"
	raw, ok := asSlice(d.tree["taskRoles"])
	if !ok {
		return
	}
	roles := make(map[string]any, len(raw))
	for i, item := range raw {
		path := fmt.Sprintf("%s[%d]", owner, i)
		entry, ok := asMap(item)
		if !ok {
			d.addIssue(owner, path, "type", "should be object")
			continue
		}
		name, ok := d.elementName(owner, path, entry)
		if !ok {
			continue
		}
		if _, dup := roles[name]; dup {
			d.addIssue(owner, path+".name", "unique", fmt.Sprintf("duplicate task role name %q", name))
			continue
		}
		delete(entry, "name")
		roles[name] = entry
	}
	d.tree["taskRoles"] = roles
}

func (d *Document) normalizeDeployments() {
	const owner = ".deployments"
	switch raw := d.tree["deployments"].(type) {
	case []any:
		deployments := make(map[string]any, len(raw))
		for i, item := range raw {
			path := fmt.Sprintf("%s[%d]", owner, i)
			entry, ok := asMap(item)
			if !ok {
				d.addIssue(owner, path, "type", "should be object")
				continue
			}
			name, ok := d.elementName(owner, path, entry)
			if !ok {
				continue
			}
			if _, dup := deployments[name]; dup {
				d.addIssue(owner, path+".name", "unique", fmt.Sprintf("duplicate deployment name %q", name))
				continue
			}
			deployments[name] = entry
		}
		d.tree["deployments"] = deployments
	case map[string]any:
		for _, key := range sortedKeys(raw) {
			entry, ok := asMap(raw[key])
			if !ok {
				continue
			}
			name, ok := entry["name"]
			if !ok {
				entry["name"] = key
				continue
			}
			if name != key {
				d.addIssue(owner, owner+"."+key+".name", "const",
					fmt.Sprintf("deployment name %v does not match its key %q", name, key))
			}
		}
	}
}

// elementName returns the name of a sequence element that is being keyed
// into a mapping, recording an issue when it is missing or not a string.
func (d *Document) elementName(owner, path string, entry map[string]any) (string, bool) {
	v, ok := entry["name"]
	if !ok {
		d.addIssue(owner, path, "required", "should have required property 'name'")
		return "", false
	}
	name, ok := v.(string)
	if !ok {
		d.addIssue(owner, path+".name", "type", "should be string")
		return "", false
	}
	return name, true
}

func isPrerequisiteType(t string) bool {
	for _, known := range PrerequisiteTypes {
		if t == known {
			return true
		}
	}
	return false
}
