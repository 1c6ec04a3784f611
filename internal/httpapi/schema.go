package httpapi

import (
	"bytes"
	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/order.json
var orderSchemaJSON []byte

func compileOrderSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(orderSchemaJSON))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("order.json", doc); err != nil {
		return nil, err
	}
	return compiler.Compile("order.json")
}
