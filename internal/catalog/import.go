package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
)

var executionLocations = map[string]bool{
	"local":    true,
	"ssh":      true,
	"winrm":    true,
	"http":     true,
	"database": true,
}

// paramJSONTypes maps a ParamSpec type to its JSON Schema type.
var paramJSONTypes = map[string]string{
	"string": "string",
	"int":    "integer",
	"float":  "number",
	"bool":   "boolean",
	"list":   "array",
	"map":    "object",
}

// ValidationIssue is one reason a definition failed import validation.
type ValidationIssue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func issuef(field, format string, args ...any) ValidationIssue {
	return ValidationIssue{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ValidateDefinition checks a tool definition against the catalog
// invariants. An empty result means the definition is publishable.
func ValidateDefinition(def *ToolDefinition) []ValidationIssue {
	var issues []ValidationIssue

	if def.Name == "" {
		issues = append(issues, issuef("name", "name is required"))
	}
	if def.Version == "" {
		issues = append(issues, issuef("version", "version is required"))
	}
	if def.Platform == "" {
		issues = append(issues, issuef("platform", "platform is required"))
	}
	if !executionLocations[def.Routing.ExecutionLocation] {
		issues = append(issues, issuef("routing.execution_location",
			"unknown execution location %q", def.Routing.ExecutionLocation))
	}
	if len(def.Capabilities) == 0 {
		issues = append(issues, issuef("capabilities", "at least one capability is required"))
	}

	for _, capability := range sortedKeys(def.Capabilities) {
		block := def.Capabilities[capability]
		if len(block.Patterns) == 0 {
			issues = append(issues, issuef("capabilities."+capability, "at least one pattern is required"))
			continue
		}
		for _, name := range sortedKeys(block.Patterns) {
			p := block.Patterns[name]
			issues = append(issues, validatePattern("capabilities."+capability+".patterns."+name, &p)...)
		}
	}

	return issues
}

func validatePattern(field string, p *Pattern) []ValidationIssue {
	var issues []ValidationIssue

	// The linear cost model is non-decreasing in n exactly when every
	// coefficient is non-negative. Enforced here so the scorer and
	// filter never have to re-check.
	cm := p.CostModel
	for _, c := range []struct {
		name string
		val  float64
	}{
		{"time_base_ms", cm.TimeBaseMs},
		{"time_per_item_ms", cm.TimePerItemMs},
		{"cost_base", cm.CostBase},
		{"cost_per_item", cm.CostPerItem},
	} {
		if c.val < 0 {
			issues = append(issues, issuef(field+".cost_model."+c.name,
				"must be >= 0, got %v (cost model must be non-decreasing in n)", c.val))
		}
	}

	if p.Complexity < 0 {
		issues = append(issues, issuef(field+".complexity", "must be >= 0, got %d", p.Complexity))
	}
	if p.Completeness != CompletenessExact && p.Completeness != CompletenessApproximate {
		issues = append(issues, issuef(field+".completeness",
			"must be %q or %q, got %q", CompletenessExact, CompletenessApproximate, p.Completeness))
	}

	for _, axis := range []struct {
		name string
		val  float64
	}{
		{"speed", p.Match.Speed},
		{"accuracy", p.Match.Accuracy},
		{"cost", p.Match.Cost},
		{"complexity", p.Match.Complexity},
		{"completeness", p.Match.Completeness},
	} {
		if axis.val < 0 || axis.val > 1 {
			issues = append(issues, issuef(field+".preference_match."+axis.name,
				"must be in [0,1], got %v", axis.val))
		}
	}

	if p.Policy.MaxCost < 0 {
		issues = append(issues, issuef(field+".policy.max_cost", "must be >= 0, got %v", p.Policy.MaxCost))
	}
	if p.Policy.MaxExecutionTimeMs < 0 {
		issues = append(issues, issuef(field+".policy.max_execution_time_ms",
			"must be >= 0, got %d", p.Policy.MaxExecutionTimeMs))
	}

	seen := make(map[string]bool, len(p.Params))
	for i, spec := range p.Params {
		pf := fmt.Sprintf("%s.params[%d]", field, i)
		if spec.Name == "" {
			issues = append(issues, issuef(pf+".name", "name is required"))
		} else if seen[spec.Name] {
			issues = append(issues, issuef(pf+".name", "duplicate parameter %q", spec.Name))
		}
		seen[spec.Name] = true
		if _, ok := paramJSONTypes[spec.Type]; !ok {
			issues = append(issues, issuef(pf+".type", "unknown type %q", spec.Type))
		}
		if spec.Pattern != "" {
			if _, err := regexp.Compile(spec.Pattern); err != nil {
				issues = append(issues, issuef(pf+".pattern", "invalid regex: %v", err))
			}
		}
	}
	if len(issues) == 0 && len(p.Params) > 0 {
		if _, err := BuildParamSchema(p.Params); err != nil {
			issues = append(issues, issuef(field+".params", "schema does not compile: %v", err))
		}
	}

	return issues
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildParamSchema compiles a pattern's parameter specs into a JSON
// Schema. The schema allows extra properties so routing hints like the
// target host pass through untouched.
func BuildParamSchema(params []ParamSpec) (*jsonschema.Schema, error) {
	props := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		prop := map[string]any{}
		if t, ok := paramJSONTypes[p.Type]; ok {
			prop["type"] = t
		}
		if p.Pattern != "" {
			prop["pattern"] = p.Pattern
		}
		if len(p.Enum) > 0 {
			vals := make([]any, len(p.Enum))
			for i, v := range p.Enum {
				vals[i] = v
			}
			prop["enum"] = vals
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	doc := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": true,
	}
	if len(required) > 0 {
		sort.Strings(required)
		doc["required"] = required
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("BuildParamSchema: %w", err)
	}
	var schemaObj any
	if err := json.Unmarshal(raw, &schemaObj); err != nil {
		return nil, fmt.Errorf("BuildParamSchema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("params.json", schemaObj); err != nil {
		return nil, fmt.Errorf("BuildParamSchema: %w", err)
	}
	sch, err := c.Compile("params.json")
	if err != nil {
		return nil, fmt.Errorf("BuildParamSchema: %w", err)
	}
	return sch, nil
}

// ValidateParams checks caller-supplied parameters against a pattern's
// specs. Values are round-tripped through JSON so the validator sees
// plain JSON types.
func ValidateParams(specs []ParamSpec, params map[string]any) error {
	if len(specs) == 0 {
		return nil
	}
	sch, err := BuildParamSchema(specs)
	if err != nil {
		return fmt.Errorf("ValidateParams: %w", err)
	}
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("ValidateParams: %w", err)
	}
	var val any
	if err := json.Unmarshal(raw, &val); err != nil {
		return fmt.Errorf("ValidateParams: %w", err)
	}
	return sch.Validate(val)
}

// Importer validates and publishes tool definitions. Published
// definitions are immutable: a new name+version inserts a new row,
// re-importing an existing version is rejected, retire flips Active off.
type Importer struct {
	store  Store
	logger *zap.Logger
}

func NewImporter(store Store, logger *zap.Logger) *Importer {
	return &Importer{store: store, logger: logger}
}

// DryRun validates without publishing.
func (i *Importer) DryRun(def *ToolDefinition) []ValidationIssue {
	return ValidateDefinition(def)
}

// Import validates and inserts a definition. Validation failures come
// back as issues with a nil error; store failures (including
// ErrVersionExists) come back as the error.
func (i *Importer) Import(ctx context.Context, def *ToolDefinition) ([]ValidationIssue, error) {
	if issues := ValidateDefinition(def); len(issues) > 0 {
		return issues, nil
	}
	def.Active = true
	if err := i.store.Insert(ctx, def); err != nil {
		return nil, err
	}
	i.logger.Info("tool definition imported",
		zap.String("tool", def.Name),
		zap.String("version", def.Version),
		zap.Int("capabilities", len(def.Capabilities)),
	)
	return nil, nil
}

// Retire marks every version of a tool inactive. Returns the number of
// versions affected; zero means the tool was not found.
func (i *Importer) Retire(ctx context.Context, name string) (int, error) {
	n, err := i.store.Retire(ctx, name)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		i.logger.Info("tool retired", zap.String("tool", name), zap.Int("versions", n))
	}
	return n, nil
}
