package ingest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	pkgmodels "github.com/aktibguard/aktibguard/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/telemetry.json
var telemetrySchema string

// Decoder validates raw telemetry bodies against the payload schema and
// decodes them.
type Decoder struct {
	schema  *jsonschema.Schema
	threat  *jsonschema.Schema
	process *jsonschema.Schema
}

// NewDecoder compiles the embedded payload schema.
func NewDecoder() (*Decoder, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("telemetry.json", strings.NewReader(telemetrySchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile("telemetry.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	threat, err := compiler.Compile("telemetry.json#/$defs/threat")
	if err != nil {
		return nil, fmt.Errorf("compile threat schema: %w", err)
	}
	process, err := compiler.Compile("telemetry.json#/$defs/process")
	if err != nil {
		return nil, fmt.Errorf("compile process schema: %w", err)
	}
	return &Decoder{schema: schema, threat: threat, process: process}, nil
}

// wirePayload defers decoding of list entries so that one malformed entry
// does not fail the whole payload.
type wirePayload struct {
	AgentInfo pkgmodels.AgentInfo `json:"agent_info"`
	Metrics   json.RawMessage     `json:"metrics,omitempty"`
	Threats   []json.RawMessage   `json:"threats"`
	Processes []json.RawMessage   `json:"processes"`
}

// Decode parses body, validates it and returns the typed payload. Every
// failure wraps ErrInvalidPayload. Threat and process entries are checked one
// at a time; entries that fail are left out and counted on the payload.
func (d *Decoder) Decode(body []byte) (*pkgmodels.TelemetryPayload, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, invalidf("empty body")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, invalidf("malformed JSON: %v", err)
	}

	if err := d.schema.Validate(doc); err != nil {
		return nil, invalidf("%s", describeValidation(err))
	}

	var wire wirePayload
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, invalidf("decode payload: %v", err)
	}

	payload := &pkgmodels.TelemetryPayload{
		AgentInfo: wire.AgentInfo,
		Metrics:   wire.Metrics,
	}
	payload.Threats, payload.MalformedThreats = decodeEntries[pkgmodels.ThreatReport](d.threat, wire.Threats)
	payload.Processes, payload.MalformedProcesses = decodeEntries[pkgmodels.ProcessReport](d.process, wire.Processes)
	return payload, nil
}

// decodeEntries validates and decodes each list entry on its own, returning
// the entries that decoded and the number that did not.
func decodeEntries[T any](schema *jsonschema.Schema, raw []json.RawMessage) ([]T, int) {
	var out []T
	skipped := 0
	for _, entry := range raw {
		dec := json.NewDecoder(bytes.NewReader(entry))
		dec.UseNumber()
		var doc any
		if err := dec.Decode(&doc); err != nil {
			skipped++
			continue
		}
		if err := schema.Validate(doc); err != nil {
			skipped++
			continue
		}
		var item T
		if err := json.Unmarshal(entry, &item); err != nil {
			skipped++
			continue
		}
		out = append(out, item)
	}
	return out, skipped
}

// describeValidation flattens a schema error to its most specific causes.
func describeValidation(err error) string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}

	var msgs []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			msgs = append(msgs, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return strings.Join(msgs, "; ")
}
