package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxCaller = "hashledger_caller"

// requestIDHeader is set on the response by the API's request id middleware.
const requestIDHeader = "X-Request-ID"

// RequireCaller returns a Gin middleware that enforces a valid Bearer caller
// token. With a nil issuer every request proceeds as Anonymous.
//
// On success the *Caller is stored on the gin context and on the request's
// context.Context.
func RequireCaller(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if issuer == nil {
			setCaller(c, Anonymous)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			unauthorized(c, "Bearer token required")
			return
		}

		caller, err := issuer.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			unauthorized(c, "invalid token: "+err.Error())
			return
		}

		setCaller(c, caller)
		c.Next()
	}
}

// CallerFromCtx retrieves the caller injected by RequireCaller, or Anonymous.
func CallerFromCtx(c *gin.Context) *Caller {
	v, _ := c.Get(ctxCaller)
	if caller, ok := v.(*Caller); ok && caller != nil {
		return caller
	}
	return Anonymous
}

func setCaller(c *gin.Context, caller *Caller) {
	c.Set(ctxCaller, caller)
	c.Request = c.Request.WithContext(WithCaller(c.Request.Context(), caller))
}

// unauthorized writes the same error body as the API handlers.
func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":      msg,
		"request_id": c.Writer.Header().Get(requestIDHeader),
	})
}
