// Package tools exposes every planline operation as a named tool taking a
// JSON argument object and answering with a JSON result envelope.
//
// Business outcomes (conflicts, missing entities, leases held by others) are
// normal results with "success": false. Call only returns an error when the
// store itself failed.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/invopop/jsonschema"

	"planline/internal/apperr"
	"planline/internal/engine"
	"planline/internal/telemetry"
)

// ErrUnknownTool is returned by Call for names that are not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Tool describes one registered operation.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`

	call func(ctx context.Context, e engine.Engine, raw json.RawMessage) (any, error)
}

// Result is the envelope every call answers with.
type Result map[string]any

func (r Result) Success() bool {
	ok, _ := r["success"].(bool)
	return ok
}

// ErrorKind returns the business error kind of a failed result.
func (r Result) ErrorKind() string {
	k, _ := r["error"].(string)
	return k
}

type Registry struct {
	engine   engine.Engine
	tools    map[string]Tool
	validate *validator.Validate
	log      *slog.Logger
	inst     *telemetry.CallInstruments
}

type Option func(*Registry)

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

func WithInstruments(c *telemetry.CallInstruments) Option {
	return func(r *Registry) { r.inst = c }
}

// New builds the registry with every planline tool.
func New(e engine.Engine, opts ...Option) *Registry {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	r := &Registry{engine: e, tools: map[string]Tool{}, validate: v}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.inst == nil {
		r.inst = telemetry.NewCallInstruments(nil, nil)
	}
	registerCatalog(r)
	return r
}

// add registers a tool whose arguments decode into A.
func add[A any](r *Registry, name, description string, fn func(ctx context.Context, e engine.Engine, a A) (any, error)) {
	if _, dup := r.tools[name]; dup {
		panic("tools: duplicate tool " + name)
	}
	reflector := jsonschema.Reflector{DoNotReference: true, Anonymous: true}
	var zero A
	schema := reflector.Reflect(&zero)
	schema.Version = ""
	raw, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("tools: schema for %s: %v", name, err))
	}
	r.tools[name] = Tool{
		Name:        name,
		Description: description,
		InputSchema: raw,
		call: func(ctx context.Context, e engine.Engine, in json.RawMessage) (any, error) {
			var a A
			if err := decodeArgs(in, &a); err != nil {
				return nil, err
			}
			if err := r.check(a); err != nil {
				return nil, err
			}
			return fn(ctx, e, a)
		},
	}
}

func decodeArgs(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.InvalidArgument("invalid arguments: %v", err)
	}
	return nil
}

func (r *Registry) check(a any) error {
	err := r.validate.Struct(a)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.InvalidArgument("invalid arguments: %v", err)
	}
	fields := map[string]string{}
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
		names = append(names, fe.Field())
	}
	ia := apperr.InvalidArgument("invalid arguments: %s", strings.Join(names, ", "))
	ia.Details = map[string]any{"fields": fields}
	return ia
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Call runs the named tool. A non-nil error means the store failed or the
// tool does not exist; every other outcome is in the Result.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	callID := uuid.NewString()
	ctx, span, began := r.inst.Start(ctx, name)
	log := r.log.With("tool", name, "call_id", callID, "actor", ActorFrom(ctx))

	out, err := t.call(ctx, r.engine, args)
	if err != nil {
		ae, business := apperr.As(err)
		if !business {
			r.inst.End(ctx, span, began, name, "", err)
			log.Error("tool call failed", "err", err)
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		r.inst.End(ctx, span, began, name, string(ae.Kind), nil)
		log.Info("tool call rejected", "kind", ae.Kind, "msg", ae.Message)
		return errorResult(ae, callID), nil
	}
	res, err := successResult(out, callID)
	if err != nil {
		r.inst.End(ctx, span, began, name, "", err)
		return nil, err
	}
	r.inst.End(ctx, span, began, name, "", nil)
	log.Info("tool call ok")
	return res, nil
}

func errorResult(ae *apperr.Error, callID string) Result {
	res := Result{}
	for k, v := range ae.Details {
		res[k] = v
	}
	res["success"] = false
	res["error"] = string(ae.Kind)
	res["message"] = ae.Message
	res["call_id"] = callID
	if ae.Kind.Retryable() {
		res["retryable"] = true
	}
	return res
}

// successResult flattens out into the envelope. Structs contribute their
// JSON fields; other values land under "result".
func successResult(out any, callID string) (Result, error) {
	res := Result{}
	switch v := out.(type) {
	case nil:
	case Result:
		for k, x := range v {
			res[k] = x
		}
	case map[string]any:
		for k, x := range v {
			res[k] = x
		}
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		if len(data) > 0 && data[0] == '{' {
			if err := json.Unmarshal(data, &res); err != nil {
				return nil, fmt.Errorf("encode result: %w", err)
			}
		} else {
			res["result"] = json.RawMessage(data)
		}
	}
	res["success"] = true
	res["call_id"] = callID
	return res, nil
}

type actorKey struct{}

// WithActor attaches the calling agent or operator to ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) string {
	a, _ := ctx.Value(actorKey{}).(string)
	return a
}
