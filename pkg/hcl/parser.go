package hcl

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/leowmjw/go-sonify/pkg/render"
)

// RenderFile is the top level of an HCL render document
type RenderFile struct {
	Renders []render.Config `hcl:"render,block"`
}

// ParseRenderConfig parses HCL content holding one or more render blocks.
// It is used for submitted documents, so env() is not available.
func ParseRenderConfig(content []byte, filename string) ([]*render.Config, error) {
	return parseRenderConfig(content, filename, evalContext(false))
}

func parseRenderConfig(content []byte, filename string, ctx *hcl.EvalContext) ([]*render.Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(content, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL: %s", diags.Error())
	}
	return decodeRenderFile(file, ctx)
}

// ParseRenderFile reads and parses an HCL render file, anchoring relative paths at its directory
func ParseRenderFile(path string) ([]*render.Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	configs, err := parseRenderConfig(content, path, evalContext(true))
	if err != nil {
		return nil, err
	}
	render.SetBaseDir(configs, filepath.Dir(path))
	return configs, nil
}

func decodeRenderFile(file *hcl.File, ctx *hcl.EvalContext) ([]*render.Config, error) {
	var doc RenderFile
	diags := gohcl.DecodeBody(file.Body, ctx, &doc)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL body: %s", diags.Error())
	}
	if len(doc.Renders) == 0 {
		return nil, fmt.Errorf("no render blocks found")
	}

	configs := make([]*render.Config, len(doc.Renders))
	for i := range doc.Renders {
		configs[i] = &doc.Renders[i]
	}
	return configs, nil
}

// evalContext exposes helper functions to render documents.
// env() is only offered to files read from local disk.
func evalContext(local bool) *hcl.EvalContext {
	functions := map[string]function.Function{
		"beats":  BeatsFunc,
		"min":    stdlib.MinFunc,
		"max":    stdlib.MaxFunc,
		"upper":  stdlib.UpperFunc,
		"lower":  stdlib.LowerFunc,
		"format": stdlib.FormatFunc,
		"concat": stdlib.ConcatFunc,
	}
	if local {
		functions["env"] = EnvFunc
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{},
		Functions: functions,
	}
}

// BeatsFunc converts a count of beats at a tempo into whole milliseconds: beats(n, bpm)
var BeatsFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "n", Type: cty.Number},
		{Name: "bpm", Type: cty.Number},
	},
	Type: function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		n, _ := args[0].AsBigFloat().Float64()
		bpm, _ := args[1].AsBigFloat().Float64()
		if bpm <= 0 {
			return cty.NilVal, fmt.Errorf("bpm must be positive")
		}
		return cty.NumberIntVal(int64(math.Round(n * 60000 / bpm))), nil
	},
})

// EnvFunc reads an environment variable, returning an empty string when unset
var EnvFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "name", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		return cty.StringVal(os.Getenv(args[0].AsString())), nil
	},
})

// IsHCL attempts to detect if the given content is in HCL format
func IsHCL(content []byte) bool {
	_, diags := hclsyntax.ParseConfig(content, "", hcl.Pos{Line: 1, Column: 1})
	return !diags.HasErrors()
}
