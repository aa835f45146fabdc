package compiler

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaCUE string

// validateSchema unifies the YAML definition with the embedded CUE schema.
// Field-level violations (bad enum values, wrong types, out-of-range
// probabilities) surface here with CUE's positional diagnostics.
func validateSchema(data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile topology schema: %w", err)
	}

	file, err := cueyaml.Extract("workflow.yaml", data)
	if err != nil {
		return fmt.Errorf("parse workflow yaml: %w", err)
	}

	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("build workflow document: %w", err)
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("workflow definition does not satisfy schema:\n%s", cueerrors.Details(err, nil))
	}
	return nil
}
