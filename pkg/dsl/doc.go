/*
Package dsl provides a Go DSL for building interaction graphs.

It lets code and tests describe instances and the routes between them with a
fluent builder instead of hand-written JSON. The result is the document
accepted by Orchestrator.SaveInteractions.

Example usage:

	b := dsl.New()

	show := b.Interaction("show").Name("Evening show").Enabled()
	show.Add("clk", "clock-input").
		Set("targetTime", "19:30").
		Set("tickInterval", "1s")
	show.Add("log", "log-output")
	show.Route("clk", "trigger").To("log", "log")

	specs, err := b.Build()
	if err != nil {
		return err
	}
	return rt.SaveInteractions(ctx, specs)
*/
package dsl
