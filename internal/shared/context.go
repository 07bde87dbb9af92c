package shared

import "context"

// Tenant carries the tenant and default stock location for an operation.
// It replaces the implicit global tenant/location defaults of older builds:
// every stock operation resolves its location from the request context when
// the caller does not name one explicitly.
type Tenant struct {
	ID       string
	Location string
}

type tenantContextKey struct{}

// ContextWithTenant stores the tenant in context.
func ContextWithTenant(ctx context.Context, t Tenant) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, t)
}

// TenantFromContext extracts the tenant from context. The zero value is
// returned when no tenant was attached.
func TenantFromContext(ctx context.Context) Tenant {
	t, _ := ctx.Value(tenantContextKey{}).(Tenant)
	return t
}

// ResolveLocation returns the explicit location when given, otherwise the
// tenant's default location from context.
func ResolveLocation(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return TenantFromContext(ctx).Location
}
