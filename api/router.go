package api

import (
	_ "github.com/Domenick1991/livesession/docs"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"
)

type RouterDeps struct {
	Sessions      *SessionHandler
	Reservations  *ReservationHandler
	Auth          TokenParser
	Logger        zerolog.Logger
	EnableSwagger bool
}

func NewRouter(d RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(d.Logger))

	if d.EnableSwagger {
		router.GET("/swagger/*any", gin.WrapH(httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json"))))
	}

	authed := router.Group("", Authenticate(d.Auth))
	d.Sessions.Register(authed.Group("/sessions"))
	d.Sessions.RegisterLegacy(authed.Group("/legacy"))
	d.Reservations.Register(authed.Group("/reservations"))
	d.Reservations.RegisterAdmin(authed.Group("/admin"))

	return router
}
