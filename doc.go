// Package dispatch is an in-process, typed publish/subscribe core:
// producers create schema-validated event envelopes, consumers register
// handlers or middleware flows against a topic, and delivery is routed
// optionally by worker identity.
//
// Architecture:
//   - Dispatcher: facade issuing snowflake envelope ids and owning a Bus
//   - Definition: binds a topic to a payload shape (schema package) and
//     default options; builds validated Envelope values
//   - Bus: topic-keyed subscription registry with concurrent,
//     failure-isolated, optionally timeout-bounded delivery
//   - Flow: ordered middleware chain accumulating a per-dispatch
//     context, with short-circuit and error-capture semantics
//
// Basic example:
//
//	userCreated := dispatch.MustDefinition("user.created",
//	    schema.Object("user").
//	        WithRequired("name").
//	        WithProperty("name", "string"),
//	)
//
//	dsp, err := dispatch.New(dispatch.WithWorkerID(1))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	off := dsp.On(userCreated, func(ctx context.Context, env *dispatch.Envelope) error {
//	    fmt.Println("created:", env.Payload)
//	    return nil
//	})
//	defer off()
//
//	env, err := userCreated.Create(ctx, dsp, map[string]any{"name": "ada"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	dsp.Emit(ctx, userCreated, env)
//
// Flows chain middleware steps over one or more definitions:
//
//	off := dispatch.NewFlow(dsp, userCreated).
//	    Filter(func(ctx context.Context, fc *dispatch.FlowContext) (bool, error) {
//	        return fc.Envelope.From != 0, nil
//	    }).
//	    Pipe(func(ctx context.Context, fc *dispatch.FlowContext) (map[string]any, error) {
//	        return map[string]any{"greeting": "hello"}, nil
//	    }).
//	    Handle(func(ctx context.Context, fc *dispatch.FlowContext) error {
//	        fmt.Println(fc.Value("greeting"))
//	        return nil
//	    }).
//	    Commit()
//	defer off()
//
// Delivery guarantees are intentionally small: per-flow steps run in
// order, but handlers for one topic complete in no particular order,
// emissions are not ordered relative to each other, and nothing is
// persisted. Handler failures never propagate to the emitter.
package dispatch
