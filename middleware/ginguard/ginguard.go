// Package ginguard runs the gatekeep request pipeline as gin middleware.
package ginguard

import (
	"net/http"

	"github.com/MrEthical07/gatekeep"
	"github.com/MrEthical07/gatekeep/middleware"
	"github.com/gin-gonic/gin"
)

// ResultKey is the gin context key holding the *gatekeep.Result of an
// admitted request.
const ResultKey = "gatekeep.result"

// Guard returns a gin handler that admits, verifies and authorizes requests
// for route. The result is stored under [ResultKey] and in the request
// context.
func Guard(engine *gatekeep.Engine, route *gatekeep.Route) gin.HandlerFunc {
	return GuardOwner(engine, route, nil)
}

// GuardOwner is Guard for OwnerOrRole routes; owner names the resource owner,
// e.g. c.Param("id").
func GuardOwner(engine *gatekeep.Engine, route *gatekeep.Route, owner func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if engine == nil || route == nil {
			abort(c, gatekeep.ErrUnknownRoute)
			return
		}

		ip := c.ClientIP()
		ctx := gatekeep.WithClientIP(c.Request.Context(), ip)
		req := &gatekeep.Request{
			Route:         route,
			ClientKey:     ip,
			Authorization: c.GetHeader("Authorization"),
		}
		if owner != nil {
			req.ResourceOwner = owner(c)
		}

		res, err := engine.Handle(ctx, req)
		c.Header("X-Request-ID", res.RequestID.String())
		middleware.SetRateLimitHeaders(c.Writer.Header(), res.RateLimit)
		if err != nil {
			abort(c, err)
			return
		}

		ctx = gatekeep.WithResult(ctx, res)
		ctx = gatekeep.WithRequestID(ctx, res.RequestID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Set(ResultKey, res)
		c.Next()
	}
}

// Claims returns the verified claims of the current request.
func Claims(c *gin.Context) (*gatekeep.Claims, bool) {
	v, ok := c.Get(ResultKey)
	if !ok {
		return nil, false
	}
	res, ok := v.(*gatekeep.Result)
	if !ok || res.Claims == nil {
		return nil, false
	}
	return res.Claims, true
}

func abort(c *gin.Context, err error) {
	status := gatekeep.HTTPStatus(err)
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", `Bearer realm="gatekeep"`)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": gatekeep.PublicMessage(err)})
}
