package main

import (
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// maxSourceBytes bounds request bodies accepted by the server.
const maxSourceBytes = "4M"

// newServer exposes the App over HTTP.
//
//	GET  /healthz             liveness
//	POST /evaluate            JSON Request body, JSON EvalResult
//	POST /evaluate/source     raw DSL or JSON design body, options in the query
func newServer(app *App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.BodyLimit(maxSourceBytes))
	e.Use(middleware.Logger())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.POST("/evaluate", func(c echo.Context) error {
		var req Request
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return respond(c, app.Evaluate(req))
	})

	e.POST("/evaluate/source", func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		req := Request{
			Source:       string(body),
			Format:       c.QueryParam("format"),
			Routing:      c.QueryParam("routing"),
			Metrics:      c.QueryParam("metrics"),
			ValidateOnly: c.QueryParam("validate_only") == "true",
		}
		if s := c.QueryParam("seed"); s != "" {
			var seed int64
			if err := echo.QueryParamsBinder(c).Int64("seed", &seed).BindError(); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			req.Seed = &seed
		}
		if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) && req.Format == "" {
			req.Format = FormatJSON
		}
		return respond(c, app.Evaluate(req))
	})

	return e
}

// respond maps a result to a status: 200 when the run succeeded, 422 when
// the design was rejected.
func respond(c echo.Context, res *EvalResult) error {
	status := http.StatusOK
	if !res.OK() {
		status = http.StatusUnprocessableEntity
	}
	c.Response().Header().Set("X-Run-Id", res.RunID)
	return c.JSON(status, res)
}
