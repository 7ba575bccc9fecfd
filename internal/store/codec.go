package store

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kyleqd/sitemap/internal/sitemap"
)

//go:embed export.schema.json
var exportSchemaJSON string

const exportSchemaURL = "https://sitemap.local/schemas/export.json"

var exportSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(exportSchemaURL, strings.NewReader(exportSchemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile(exportSchemaURL)
})

// MarshalExport encodes x as indented JSON.
func MarshalExport(x sitemap.Export) ([]byte, error) {
	return json.MarshalIndent(x, "", "  ")
}

// UnmarshalExport validates data against the export schema and decodes it.
func UnmarshalExport(data []byte) (sitemap.Export, error) {
	schema, err := exportSchema()
	if err != nil {
		return sitemap.Export{}, fmt.Errorf("compile export schema: %w", err)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return sitemap.Export{}, fmt.Errorf("%w: %v", ErrInvalidExport, err)
	}
	if err := schema.Validate(doc); err != nil {
		return sitemap.Export{}, fmt.Errorf("%w: %v", ErrInvalidExport, err)
	}
	var x sitemap.Export
	if err := json.Unmarshal(data, &x); err != nil {
		return sitemap.Export{}, fmt.Errorf("%w: %v", ErrInvalidExport, err)
	}
	return x, nil
}
