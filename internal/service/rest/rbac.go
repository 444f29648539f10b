package rest

import (
	"fmt"
	"net/http"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/gin-gonic/gin"
)

// rbacModel: роль, путь запроса, метод. admin наследует права distributor.
const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && regexMatch(r.act, p.act)
`

var rbacPolicies = [][]string{
	{RoleRetailer, "/api/v1/cart", "^GET$"},
	{RoleRetailer, "/api/v1/cart/items", "^POST$"},
	{RoleRetailer, "/api/v1/cart/items/:product_id", "^(PUT|DELETE)$"},
	{RoleRetailer, "/api/v1/orders", "^(GET|POST)$"},
	{RoleRetailer, "/api/v1/orders/:ref", "^GET$"},
	{RoleRetailer, "/api/v1/orders/:ref/track", "^GET$"},
	{RoleRetailer, "/api/v1/orders/:ref/cancel", "^POST$"},
	{RoleAdmin, "/api/v1/orders/:ref", "^GET$"},
	{RoleAdmin, "/api/v1/orders/:ref/track", "^GET$"},
	{RoleDistributor, "/api/v1/admin/orders/:ref/status", "^PUT$"},
	{RoleDistributor, "/api/v1/admin/stock-alerts", "^GET$"},
	{RoleDistributor, "/api/v1/admin/products/:id", "^(GET|PUT)$"},
}

// Authorizer проверяет права роли на маршрут.
type Authorizer struct {
	enforcer *casbin.Enforcer
}

// NewAuthorizer собирает RBAC-модель с политиками маркетплейса.
func NewAuthorizer() (*Authorizer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("load rbac model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create rbac enforcer: %w", err)
	}
	if _, err := enforcer.AddPolicies(rbacPolicies); err != nil {
		return nil, fmt.Errorf("add rbac policies: %w", err)
	}
	if _, err := enforcer.AddGroupingPolicy(RoleAdmin, RoleDistributor); err != nil {
		return nil, fmt.Errorf("add rbac role inheritance: %w", err)
	}
	return &Authorizer{enforcer: enforcer}, nil
}

// Allowed сообщает, может ли роль выполнить метод на пути.
func (a *Authorizer) Allowed(role, path, method string) (bool, error) {
	return a.enforcer.Enforce(role, path, method)
}

func (h *Handler) authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := principalFrom(c)
		allowed, err := h.authz.Allowed(principal.Role, c.Request.URL.Path, c.Request.Method)
		if err != nil {
			h.logger.WithError(err).Error("rbac check failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Code: "internal", Message: "internal error"})
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody{Code: "forbidden", Message: "operation is not allowed for role " + principal.Role})
			return
		}
		c.Next()
	}
}
