package spec

import (
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func validate(t *testing.T, tree map[string]any) ValidationResult {
	t.Helper()
	return ValidateDocument(NewDocument(tree))
}

func assertFirstMessage(t *testing.T, result ValidationResult, want string) {
	t.Helper()
	if result.Valid() {
		t.Fatalf("expected validation failure with %q", want)
	}
	if got := result.First().Message; got != want {
		t.Errorf("first message = %q, want %q (all: %s)", got, want, result.Error())
	}
}

func assertHasFieldError(t *testing.T, result ValidationResult, field, keyword string) {
	t.Helper()
	for _, e := range result.Errors {
		if e.Field == field && e.Keyword == keyword {
			return
		}
	}
	t.Errorf("expected %s error for field %q, got errors: %v", keyword, field, result.Errors)
}

func TestValidateValid(t *testing.T) {
	v := NewValidator()
	if !v.Validate(NewDocument(mustTree(t, validJob))) {
		t.Fatalf("expected valid, got errors: %v", v.Errors())
	}
	if len(v.Errors()) != 0 {
		t.Errorf("Errors() = %v, want empty", v.Errors())
	}

	if result := validate(t, simpleJob(t)); !result.Valid() {
		t.Errorf("simple job should be valid, got: %s", result.Error())
	}
}

func TestValidateMissingRequiredTopLevel(t *testing.T) {
	for _, key := range []string{"protocolVersion", "name", "type", "taskRoles"} {
		t.Run(key, func(t *testing.T) {
			tree := mustTree(t, validJob)
			delete(tree, key)
			// Removing taskRoles also orphans the deployment override; the
			// required-property failure must still come first.
			assertFirstMessage(t, validate(t, tree), "should have required property '"+key+"'")
		})
	}
}

func TestValidateMissingRequiredNested(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(tree map[string]any)
		field  string
		want   string
	}{
		{
			name:   "commands",
			mutate: func(tree map[string]any) { delete(workerOf(t, tree), "commands") },
			field:  ".taskRoles.worker",
			want:   "should have required property 'commands'",
		},
		{
			name: "gpu",
			mutate: func(tree map[string]any) {
				delete(mustMap(t, workerOf(t, tree)["resourcePerInstance"], "resourcePerInstance"), "gpu")
			},
			field: ".taskRoles.worker.resourcePerInstance",
			want:  "should have required property 'gpu'",
		},
		{
			name: "dockerimage uri",
			mutate: func(tree map[string]any) {
				prereqs := tree["prerequisites"].([]any)
				delete(mustMap(t, prereqs[0], "prerequisites[0]"), "uri")
			},
			field: ".prerequisites.dockerimage.tf_example",
			want:  "should have required property 'uri'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := mustTree(t, validJob)
			tt.mutate(tree)
			result := validate(t, tree)
			assertFirstMessage(t, result, tt.want)
			if got := result.First().Field; got != tt.field {
				t.Errorf("Field = %q, want %q", got, tt.field)
			}
		})
	}
}

func TestValidateAdditionalProperties(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(tree map[string]any)
		field  string
	}{
		{"top level", func(tree map[string]any) { tree["extras"] = "x" }, ".extras"},
		{"task role", func(tree map[string]any) { workerOf(t, tree)["shmMB"] = 64 }, ".taskRoles.worker.shmMB"},
		{"completion", func(tree map[string]any) {
			mustMap(t, workerOf(t, tree)["completion"], "completion")["minFailedInstances"] = 1
		}, ".taskRoles.worker.completion.minFailedInstances"},
		{"defaults", func(tree map[string]any) {
			mustMap(t, tree["defaults"], "defaults")["cluster"] = "a"
		}, ".defaults.cluster"},
		{"prerequisite bucket", func(tree map[string]any) {
			tree["prerequisites"] = append(tree["prerequisites"].([]any), map[string]any{
				"name": "img2", "type": "dockerimage", "uri": "x", "auth": "secret",
			})
		}, ".prerequisites.dockerimage.img2.auth"},
		{"bad task role key", func(tree map[string]any) {
			roles := mustMap(t, tree["taskRoles"], "taskRoles")
			roles["9lives"] = roles["worker"]
		}, ".taskRoles.9lives"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := mustTree(t, validJob)
			tt.mutate(tree)
			result := validate(t, tree)
			assertFirstMessage(t, result, "should NOT have additional properties")
			assertHasFieldError(t, result, tt.field, "additionalProperties")
		})
	}
}

func TestValidateTypeAndFormat(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(tree map[string]any)
		field   string
		keyword string
		want    string
	}{
		{"protocol version", func(tree map[string]any) { tree["protocolVersion"] = 1 },
			".protocolVersion", "enum", "should be equal to one of the allowed values"},
		{"job type", func(tree map[string]any) { tree["type"] = "service" },
			".type", "enum", "should be equal to one of the allowed values"},
		{"name pattern", func(tree map[string]any) { tree["name"] = "1job" },
			".name", "pattern", `should match pattern "` + identifierPattern + `"`},
		{"instances integer", func(tree map[string]any) { workerOf(t, tree)["instances"] = 1.5 },
			".taskRoles.worker.instances", "type", "should be integer"},
		{"instances minimum", func(tree map[string]any) { workerOf(t, tree)["instances"] = 0 },
			".taskRoles.worker.instances", "minimum", "should be >= 1"},
		{"empty commands", func(tree map[string]any) { workerOf(t, tree)["commands"] = []any{} },
			".taskRoles.worker.commands", "minItems", "should NOT have fewer than 1 items"},
		{"command item", func(tree map[string]any) { workerOf(t, tree)["commands"] = []any{42} },
			".taskRoles.worker.commands[0]", "type", "should be string"},
		{"no task roles", func(tree map[string]any) {
			tree["taskRoles"] = map[string]any{}
			delete(tree, "deployments")
			delete(tree, "defaults")
		}, ".taskRoles", "minProperties", "should NOT have fewer than 1 properties"},
		{"parameter value", func(tree map[string]any) {
			mustMap(t, tree["parameters"], "parameters")["epochs"] = []any{1}
		}, ".parameters.epochs", "type", "should be string,number,boolean"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := mustTree(t, validJob)
			tt.mutate(tree)
			result := validate(t, tree)
			assertFirstMessage(t, result, tt.want)
			if got := result.First(); got.Field != tt.field || got.Keyword != tt.keyword {
				t.Errorf("first = %+v, want field %q keyword %q", got, tt.field, tt.keyword)
			}
		})
	}
}

func TestValidateProtocolVersionString(t *testing.T) {
	tree := mustTree(t, validJob)
	tree["protocolVersion"] = "2"
	if result := validate(t, tree); !result.Valid() {
		t.Errorf("string protocol version should be coerced, got: %s", result.Error())
	}
}

func TestValidateUndeclaredDockerImage(t *testing.T) {
	tree := mustTree(t, validJob)
	workerOf(t, tree)["dockerImage"] = "pytorch_example"

	result := validate(t, tree)
	if result.Valid() {
		t.Fatal("expected reference failure")
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected exactly one error, got %v", result.Errors)
	}
	first := result.First()
	if first.Keyword != "reference" {
		t.Errorf("Keyword = %q, want reference", first.Keyword)
	}
	if first.Field != ".taskRoles.worker.dockerImage" {
		t.Errorf("Field = %q", first.Field)
	}
	if !strings.Contains(first.Message, `"pytorch_example"`) {
		t.Errorf("Message = %q, want it to name the image", first.Message)
	}
}

func TestValidateDockerImageMustBeDockerimageBucket(t *testing.T) {
	tree := mustTree(t, validJob)
	workerOf(t, tree)["dockerImage"] = "mnist" // declared, but as data

	assertHasFieldError(t, validate(t, tree), ".taskRoles.worker.dockerImage", "reference")
}

func TestValidateDeploymentUnknownRole(t *testing.T) {
	tree := mustTree(t, validJob)
	dep := mustMap(t, tree["deployments"].([]any)[0], "deployments[0]")
	mustMap(t, dep["taskRoles"], "taskRoles")["ps"] = map[string]any{"preCommands": []any{"x"}}

	result := validate(t, tree)
	if len(result.Errors) != 1 {
		t.Fatalf("expected one error, got %v", result.Errors)
	}
	assertHasFieldError(t, result, ".deployments.prod.taskRoles.ps", "reference")
}

func TestValidateDefaultDeploymentUnknown(t *testing.T) {
	tree := mustTree(t, validJob)
	mustMap(t, tree["defaults"], "defaults")["deployment"] = "staging"

	result := validate(t, tree)
	assertHasFieldError(t, result, ".defaults.deployment", "reference")
	if !strings.Contains(result.First().Message, `"staging"`) {
		t.Errorf("Message = %q", result.First().Message)
	}
}

func TestValidateDuplicates(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(tree map[string]any)
		field  string
	}{
		{"prerequisite", func(tree map[string]any) {
			prereqs := tree["prerequisites"].([]any)
			tree["prerequisites"] = append(prereqs, deepCopy(prereqs[0]))
		}, ".prerequisites[2].name"},
		{"deployment", func(tree map[string]any) {
			deps := tree["deployments"].([]any)
			tree["deployments"] = append(deps, deepCopy(deps[0]))
		}, ".deployments[1].name"},
		{"task role", func(tree map[string]any) {
			role := workerOf(t, tree)
			first := deepCopyMap(role)
			first["name"] = "worker"
			second := deepCopyMap(role)
			second["name"] = "worker"
			tree["taskRoles"] = []any{first, second}
		}, ".taskRoles[1].name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := mustTree(t, validJob)
			tt.mutate(tree)
			result := validate(t, tree)
			if result.Valid() {
				t.Fatal("expected duplicate to be rejected")
			}
			assertHasFieldError(t, result, tt.field, "unique")
		})
	}
}

func TestValidateSameNameInDifferentBuckets(t *testing.T) {
	tree := mustTree(t, validJob)
	tree["prerequisites"] = append(tree["prerequisites"].([]any), map[string]any{
		"name": "tf_example", "type": "script", "uri": "x",
	})
	if result := validate(t, tree); !result.Valid() {
		t.Errorf("names are unique per bucket only, got: %s", result.Error())
	}
}

func TestValidateSequenceElementWithoutName(t *testing.T) {
	tree := mustTree(t, validJob)
	tree["deployments"] = []any{map[string]any{"taskRoles": map[string]any{}}}

	result := validate(t, tree)
	assertHasFieldError(t, result, ".deployments[0]", "required")
}

func TestValidateSequenceElementNameNotString(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(tree map[string]any)
		field  string
	}{
		{"task role", func(tree map[string]any) {
			role := deepCopyMap(mustMap(t, mustMap(t, tree["taskRoles"], "taskRoles")["main"], "main"))
			role["name"] = 1
			tree["taskRoles"] = []any{role}
		}, ".taskRoles[0].name"},
		{"deployment", func(tree map[string]any) {
			tree["deployments"] = []any{map[string]any{"name": true, "taskRoles": map[string]any{}}}
		}, ".deployments[0].name"},
		{"prerequisite", func(tree map[string]any) {
			tree["prerequisites"] = []any{map[string]any{"name": 7, "type": "dockerimage", "uri": "busybox"}}
		}, ".prerequisites[0].name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := simpleJob(t)
			tt.mutate(tree)
			result := validate(t, tree)
			assertHasFieldError(t, result, tt.field, "type")
			for _, e := range result.Errors {
				if e.Keyword == "required" && strings.Contains(e.Message, "'name'") {
					t.Errorf("name is present, got %v", e)
				}
			}
		})
	}
}

func TestValidatePrerequisiteNameMustMatchKey(t *testing.T) {
	tree := simpleJob(t)
	tree["prerequisites"] = map[string]any{
		"dockerimage": map[string]any{
			"a": map[string]any{"name": "b", "type": "dockerimage", "uri": "busybox"},
		},
	}
	mustMap(t, mustMap(t, tree["taskRoles"], "taskRoles")["main"], "main")["dockerImage"] = "a"

	result := validate(t, tree)
	if result.Valid() {
		t.Fatal("prerequisite declared as b under key a should be rejected")
	}
	assertHasFieldError(t, result, ".prerequisites.dockerimage.a.name", "const")

	tree["prerequisites"] = map[string]any{
		"dockerimage": map[string]any{
			"a": map[string]any{"name": "a", "type": "dockerimage", "uri": "busybox"},
		},
	}
	if result := validate(t, tree); !result.Valid() {
		t.Errorf("matching name and key should be valid, got: %s", result.Error())
	}
}

func TestValidateNonFiniteParameter(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		tree := simpleJob(t)
		tree["parameters"] = map[string]any{"x": v}
		assertHasFieldError(t, validate(t, tree), ".parameters.x", "type")
	}
}

func TestValidateUndeclaredParameter(t *testing.T) {
	tree := mustTree(t, validJob)
	workerOf(t, tree)["commands"] = []any{"train --steps <% $parameters.steps %>"}

	result := validate(t, tree)
	assertHasFieldError(t, result, ".taskRoles.worker.commands[0]", "reference")

	v := &Validator{CheckParameterRefs: false}
	if !v.Validate(NewDocument(tree)) {
		t.Errorf("parameter check disabled, got: %v", v.Errors())
	}
}

func TestValidateMalformedPlaceholder(t *testing.T) {
	tree := mustTree(t, validJob)
	workerOf(t, tree)["commands"] = []any{"run <% $parameters.epochs"}

	assertHasFieldError(t, validate(t, tree), ".taskRoles.worker.commands[0]", "template")
}

func TestValidateStructuralBeforeSemantic(t *testing.T) {
	tree := mustTree(t, validJob)
	workerOf(t, tree)["dockerImage"] = "missing"
	tree["extra"] = true

	result := validate(t, tree)
	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %v", result.Errors)
	}
	if result.Errors[0].Keyword != "additionalProperties" || result.Errors[1].Keyword != "reference" {
		t.Errorf("order = %v, want additionalProperties then reference", result.Errors)
	}
}

func TestValidateDeterministicOrder(t *testing.T) {
	tree := mustTree(t, validJob)
	tree["a"], tree["b"], tree["c"] = 1, 2, 3
	delete(tree, "name")
	workerOf(t, tree)["instances"] = -1
	workerOf(t, tree)["dockerImage"] = "nope"

	first := validate(t, tree)
	for i := 0; i < 20; i++ {
		again := validate(t, tree)
		if diff := cmp.Diff(first.Errors, again.Errors); diff != "" {
			t.Fatalf("run %d differs (-first +again):\n%s", i, diff)
		}
	}
	assertFirstMessage(t, first, "should have required property 'name'")
}

func TestValidateMultipleErrors(t *testing.T) {
	result := validate(t, map[string]any{})
	if len(result.Errors) != 4 {
		t.Errorf("expected 4 errors, got %d: %s", len(result.Errors), result.Error())
	}
}

func TestValidatorErrorsResetBetweenRuns(t *testing.T) {
	v := NewValidator()
	if v.Validate(NewDocument(map[string]any{})) {
		t.Fatal("empty document should be invalid")
	}
	if !v.Validate(NewDocument(mustTree(t, validJob))) {
		t.Fatalf("expected valid, got %v", v.Errors())
	}
	if len(v.Errors()) != 0 {
		t.Errorf("Errors() = %v, want empty after a passing run", v.Errors())
	}
}

func TestValidationErrorString(t *testing.T) {
	e := ValidationError{Field: ".name", Message: "should be string"}
	if e.Error() != ".name: should be string" {
		t.Errorf("Error() = %q", e.Error())
	}
	root := ValidationError{Message: "should have required property 'name'"}
	if root.Error() != root.Message {
		t.Errorf("Error() = %q, want bare message", root.Error())
	}
}

func TestSchemaDescription(t *testing.T) {
	desc := SchemaDescription()
	if desc["type"] != "object" {
		t.Errorf("type = %v", desc["type"])
	}
	if desc["additionalProperties"] != false {
		t.Errorf("root should be closed, got %v", desc["additionalProperties"])
	}
	props := mustMap(t, desc["properties"], "properties")
	roles := mustMap(t, props["taskRoles"], "taskRoles")
	if _, ok := roles["patternProperties"]; !ok {
		t.Error("taskRoles should describe its key pattern")
	}
}
