package spec

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func renderedCommands(t *testing.T, doc *Document, role string) []string {
	t.Helper()
	r, ok := doc.TaskRole(role)
	if !ok {
		t.Fatalf("task role %q not found", role)
	}
	return r.Commands()
}

func TestRenderScenario(t *testing.T) {
	doc := NewDocument(mustTree(t, validJob))
	if err := Render(doc, nil); err != nil {
		t.Fatalf("Render: %v", err)
	}

	want := []string{"run --epochs 10 --lr 0.01"}
	if diff := cmp.Diff(want, renderedCommands(t, doc, "worker")); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderMatchesManualSubstitution(t *testing.T) {
	tree := mustTree(t, validJob)
	raw := workerOf(t, tree)["commands"].([]any)[0].(string)

	manual := raw
	for name, v := range mustMap(t, tree["parameters"], "parameters") {
		s, _ := formatScalar(v)
		manual = strings.ReplaceAll(manual, "<% $parameters."+name+" %>", s)
	}

	doc := NewDocument(tree)
	if err := Render(doc, nil); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if _, err := Merge(doc, ""); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	role, _ := doc.TaskRole("worker")
	if want := "setup.sh\n" + manual + "\n"; role.Entrypoint() != want {
		t.Errorf("Entrypoint = %q, want %q", role.Entrypoint(), want)
	}
}

func TestRenderIdempotent(t *testing.T) {
	doc := NewDocument(mustTree(t, validJob))
	if err := Render(doc, nil); err != nil {
		t.Fatalf("first Render: %v", err)
	}
	once := doc.Tree()

	if err := Render(doc, nil); err != nil {
		t.Fatalf("second Render: %v", err)
	}
	if diff := cmp.Diff(once, doc.Tree()); diff != "" {
		t.Errorf("second render changed the document (-once +twice):\n%s", diff)
	}
}

func TestRenderOverrides(t *testing.T) {
	doc := NewDocument(mustTree(t, validJob))
	err := Render(doc, map[string]any{"epochs": "20", "lr": 0.5, "unused": true})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	want := []string{"run --epochs 20 --lr 0.5"}
	if diff := cmp.Diff(want, renderedCommands(t, doc, "worker")); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}

	params := doc.Parameters()
	if params["epochs"] != "20" || params["batchsize"] != 32 {
		t.Errorf("parameters = %v, want overrides applied to declared names", params)
	}
	if _, ok := params["unused"]; ok {
		t.Error("undeclared overrides should not be added to parameters")
	}
}

func TestRenderDefaultsInstances(t *testing.T) {
	doc := NewDocument(simpleJob(t))
	if err := Render(doc, nil); err != nil {
		t.Fatalf("Render: %v", err)
	}
	role, _ := doc.TaskRole("main")
	if role.Instances() != 1 {
		t.Errorf("Instances = %d, want 1", role.Instances())
	}
}

func TestRenderFailureLeavesDocumentUnchanged(t *testing.T) {
	tree := mustTree(t, validJob)
	roles := mustMap(t, tree["taskRoles"], "taskRoles")
	ps := deepCopyMap(workerOf(t, tree))
	ps["commands"] = []any{"serve --port <% $parameters.port %>"}
	roles["ps"] = ps

	doc := NewDocument(tree)
	before := doc.Tree()

	err := Render(doc, nil)
	if err == nil {
		t.Fatal("expected render failure")
	}
	if !errors.Is(err, ErrRender) {
		t.Errorf("error %v should wrap ErrRender", err)
	}
	var re *RenderError
	if !errors.As(err, &re) || re.Field != ".taskRoles.ps.commands[0]" {
		t.Errorf("error = %#v, want RenderError for .taskRoles.ps.commands[0]", err)
	}
	if diff := cmp.Diff(before, doc.Tree()); diff != "" {
		t.Errorf("failed render modified the document (-before +after):\n%s", diff)
	}
}

func TestRenderStringValues(t *testing.T) {
	values := map[string]any{
		"s":    "text",
		"i":    32,
		"f":    0.01,
		"big":  1e6,
		"b":    false,
		"nest": map[string]any{"lr": 0.1},
		"list": []any{1},
	}
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"<% $parameters.s %>", "text", false},
		{"<% $parameters.i %>", "32", false},
		{"<% $parameters.f %>", "0.01", false},
		{"<% $parameters.big %>", "1000000", false},
		{"<% $parameters.b %>", "false", false},
		{"<% $parameters.nest.lr %>", "0.1", false},
		{"no placeholders", "no placeholders", false},
		{"<% $parameters.missing %>", "", true},
		{"<% $parameters.s.deeper %>", "", true},
		{"<% $parameters.list %>", "", true},
		{"<% $parameters.nest %>", "", true},
	}

	for _, tt := range tests {
		got, err := RenderString(tt.input, values)
		if tt.wantErr {
			if err == nil {
				t.Errorf("RenderString(%q) = %q, want error", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("RenderString(%q): %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("RenderString(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRenderValueContainingOpenMarker(t *testing.T) {
	tree := simpleJob(t)
	tree["parameters"] = map[string]any{"p": "a<%b"}
	mustMap(t, mustMap(t, tree["taskRoles"], "taskRoles")["main"], "main")["commands"] = []any{"echo <% $parameters.p %>"}

	doc := NewDocument(tree)
	if err := Render(doc, nil); err != nil {
		t.Fatalf("first Render: %v", err)
	}
	if diff := cmp.Diff([]string{"echo a<%b"}, renderedCommands(t, doc, "main")); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	if err := Render(doc, nil); err != nil {
		t.Fatalf("second Render: %v", err)
	}
	if diff := cmp.Diff([]string{"echo a<%b"}, renderedCommands(t, doc, "main")); diff != "" {
		t.Errorf("second render changed commands (-want +got):\n%s", diff)
	}
}

func TestFormatScalarFloats(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.01, "0.01"},
		{1e20, "100000000000000000000"},
		{1e21, "1e+21"},
		{-2.5e30, "-2.5e+30"},
	}
	for _, tt := range tests {
		got, ok := formatScalar(tt.in)
		if !ok || got != tt.want {
			t.Errorf("formatScalar(%v) = %q, %v, want %q", tt.in, got, ok, tt.want)
		}
	}

	for _, v := range []float64{math.NaN(), math.Inf(1)} {
		if got, ok := formatScalar(v); ok {
			t.Errorf("formatScalar(%v) = %q, want no form", v, got)
		}
		if _, err := RenderString("<% $parameters.x %>", map[string]any{"x": v}); err == nil {
			t.Errorf("RenderString with %v should fail", v)
		}
	}
}
