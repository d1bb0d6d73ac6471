// ABOUTME: Context helpers tagging a tool call with the facade it arrived through.
// ABOUTME: The tag ends up in the call journal.

package hub

import "context"

type facadeKey struct{}

// WithFacade returns a context recording which facade originated a call.
func WithFacade(ctx context.Context, facade string) context.Context {
	return context.WithValue(ctx, facadeKey{}, facade)
}

// FacadeFrom returns the facade recorded by WithFacade, or "".
func FacadeFrom(ctx context.Context) string {
	facade, _ := ctx.Value(facadeKey{}).(string)
	return facade
}
