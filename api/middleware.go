package api

import (
	"time"

	"github.com/Domenick1991/livesession/internal/apperrors"
	"github.com/Domenick1991/livesession/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const actorKey = "actor"

type TokenParser interface {
	Parse(raw string) (domain.Actor, error)
}

// Authenticate resolves the bearer token into an actor for the downstream handlers.
func Authenticate(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := parser.Parse(c.GetHeader("Authorization"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) (domain.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return domain.Actor{}, false
	}
	actor, ok := v.(domain.Actor)
	return actor, ok
}

// requireActor writes 401 and returns false when no actor was resolved.
func requireActor(c *gin.Context) (domain.Actor, bool) {
	actor, ok := actorFrom(c)
	if !ok {
		writeError(c, apperrors.New(apperrors.CodeUnauthenticated, "authentication required"))
	}
	return actor, ok
}

func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		ev := logger.Info()
		if c.Writer.Status() >= 500 {
			ev = logger.Error()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		if actor, ok := actorFrom(c); ok {
			ev = ev.Str("actor_id", actor.ID)
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(started)).
			Msg("http request")
	}
}
