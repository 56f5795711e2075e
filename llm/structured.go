package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// SchemaFor generates a JSON Schema for v. Used both for structured
// response binding and for tool parameter definitions.
func SchemaFor(v any) (json.RawMessage, error) {
	reflector := jsonschema.Reflector{
		DoNotReference:             true,
		AllowAdditionalProperties:  false,
		RequiredFromJSONSchemaTags: true,
	}
	schema := reflector.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// BindSchema appends a system instruction requiring the model to answer
// with a single JSON object conforming to the schema of v.
func BindSchema(req *Request, v any) error {
	schema, err := SchemaFor(v)
	if err != nil {
		return NewFatalError(err)
	}

	var b strings.Builder
	b.WriteString("Respond with a single JSON object and nothing else. ")
	b.WriteString("The object must conform to this JSON Schema:\n\n")
	b.Write(schema)

	req.Messages = append(req.Messages, Message{
		Role:    "system",
		Content: b.String(),
	})
	return nil
}

// ParseStructured decodes a complete LLM response into target,
// tolerating fenced code blocks and stray prose around the object.
func ParseStructured(content string, target any) error {
	raw := ExtractJSON(content)
	if raw == "" {
		return NewFatalKind(KindBadOutput, fmt.Errorf("no JSON object in response"))
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		return NewFatalKind(KindBadOutput, fmt.Errorf("decode structured response: %w", err))
	}
	return nil
}

// StreamStructured invokes a streaming completion bound to the schema of T
// and yields partial instances as fields complete. onPartial receives
// every successfully decoded prefix; the final decoded value is
// returned together with the raw response.
func StreamStructured[T any](ctx context.Context, c *Client, req Request, onPartial func(T)) (T, *Response, error) {
	var zero T
	if err := BindSchema(&req, zero); err != nil {
		return zero, nil, err
	}

	var buf strings.Builder
	resp, err := c.Stream(ctx, req, func(ev StreamEvent) error {
		if ev.TextDelta == "" {
			return nil
		}
		buf.WriteString(ev.TextDelta)
		if onPartial == nil {
			return nil
		}
		completed := CompletePartial(buf.String())
		if completed == "" {
			return nil
		}
		var partial T
		if json.Unmarshal([]byte(completed), &partial) == nil {
			onPartial(partial)
		}
		return nil
	})
	if err != nil {
		return zero, nil, err
	}

	var result T
	if err := ParseStructured(resp.Content, &result); err != nil {
		return zero, resp, err
	}
	return result, resp, nil
}
