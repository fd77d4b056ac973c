package obs

import "context"

type routePatternKey struct{}

// WithRoutePattern attaches the matched router pattern to the context so
// metric labels use "/api/v1/orders/{orderID}/pay" rather than concrete
// paths.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, routePatternKey{}, pattern)
}

// RoutePatternFromContext returns the stored pattern, or "" when unset.
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	pattern, _ := ctx.Value(routePatternKey{}).(string)
	return pattern
}
