package protocol

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/zeusync/islandsync/pkg/generic"
)

// Codec converts envelopes to and from JSON. Inbound envelopes are checked
// against the envelope schema before they are decoded.
type Codec struct {
	schema         *jsonschema.Schema
	maxMessageSize int
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithMaxMessageSize rejects inbound messages larger than n bytes.
func WithMaxMessageSize(n int) CodecOption {
	return func(c *Codec) {
		c.maxMessageSize = n
	}
}

// WithoutSchema disables schema validation.
func WithoutSchema() CodecOption {
	return func(c *Codec) {
		c.schema = nil
	}
}

// NewCodec compiles the envelope schema and returns a codec.
func NewCodec(opts ...CodecOption) (*Codec, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchema))
	if err != nil {
		return nil, errors.Wrap(err, "parse envelope schema")
	}
	compiler := jsonschema.NewCompiler()
	if err = compiler.AddResource(envelopeSchemaURL, doc); err != nil {
		return nil, errors.Wrap(err, "add envelope schema")
	}
	schema, err := compiler.Compile(envelopeSchemaURL)
	if err != nil {
		return nil, errors.Wrap(err, "compile envelope schema")
	}

	c := &Codec{schema: schema}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Decode parses and validates an inbound envelope.
func (c *Codec) Decode(data []byte) (Inbound, error) {
	var in Inbound
	if c.maxMessageSize > 0 && len(data) > c.maxMessageSize {
		return in, errors.Wrapf(ErrMessageTooLarge, "%d bytes", len(data))
	}

	if c.schema != nil {
		inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return in, errors.Wrap(ErrInvalidEnvelope, err.Error())
		}
		if err = c.schema.Validate(inst); err != nil {
			return in, errors.Wrap(ErrSchemaViolation, err.Error())
		}
	}

	if err := json.Unmarshal(data, &in); err != nil {
		return in, errors.Wrap(ErrInvalidEnvelope, err.Error())
	}
	if in.Event == "" {
		return in, errors.Wrap(ErrInvalidEnvelope, "missing event")
	}
	if !IsInbound(in.Event) {
		return in, errors.Wrapf(ErrUnknownEvent, "event %q", in.Event)
	}
	return in, nil
}

var encodeBuffers = generic.NewPool(func() *bytes.Buffer {
	return new(bytes.Buffer)
}, (*bytes.Buffer).Reset)

// Encode marshals an outbound envelope. The returned slice is owned by the
// caller.
func (c *Codec) Encode(out Outbound) ([]byte, error) {
	buf := encodeBuffers.Get()
	defer encodeBuffers.Put(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return nil, errors.Wrapf(err, "encode %q", out.Event)
	}

	data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	return append([]byte(nil), data...), nil
}

// DecodeGlobals splits a globals payload into its fields and version.
func DecodeGlobals(raw json.RawMessage) (Globals, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return Globals{}, err
	}

	g := Globals{Fields: fields, Version: -1}
	if v, ok := fields[VersionKey]; ok {
		delete(fields, VersionKey)
		version, err := toVersion(v)
		if err != nil {
			return Globals{}, err
		}
		g.Version = version
		g.HasVersion = true
	}
	return g, nil
}

// DecodeProps splits a props payload into the instance id and the fields.
func DecodeProps(raw json.RawMessage) (PropsPatch, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return PropsPatch{}, err
	}
	id, _ := fields["id"].(string)
	if id == "" {
		return PropsPatch{}, errors.Wrap(ErrInvalidPayload, "props patch without id")
	}
	delete(fields, "id")
	return PropsPatch{ID: id, Fields: fields}, nil
}

// DecodeStreamPatch decodes a stream payload.
func DecodeStreamPatch(raw json.RawMessage) (StreamPatch, error) {
	var p StreamPatch
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, errors.Wrap(ErrInvalidPayload, err.Error())
	}
	if p.ID == "" || p.Stream == "" {
		return p, errors.Wrap(ErrInvalidPayload, "stream patch without id or stream")
	}
	return p, nil
}

// DecodeStreamInit decodes a stream_init payload.
func DecodeStreamInit(raw json.RawMessage) (StreamInit, error) {
	var s StreamInit
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, errors.Wrap(ErrInvalidPayload, err.Error())
	}
	if s.ID == "" || s.Stream == "" {
		return s, errors.Wrap(ErrInvalidPayload, "stream init without id or stream")
	}
	return s, nil
}

// DecodeFormAck decodes a form_ack payload.
func DecodeFormAck(raw json.RawMessage) (FormAck, error) {
	var a FormAck
	if err := json.Unmarshal(raw, &a); err != nil {
		return a, errors.Wrap(ErrInvalidPayload, err.Error())
	}
	if a.ID == "" || a.Form == "" {
		return a, errors.Wrap(ErrInvalidPayload, "form ack without id or form")
	}
	return a, nil
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.Wrap(ErrInvalidPayload, err.Error())
	}
	if fields == nil {
		return nil, errors.Wrap(ErrInvalidPayload, "payload is not an object")
	}
	return fields, nil
}

func toVersion(v any) (int64, error) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, errors.Wrapf(ErrInvalidPayload, "%s must be an integer", VersionKey)
	}
	return int64(f), nil
}
