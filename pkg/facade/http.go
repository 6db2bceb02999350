package facade

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fuzzysecurity/kahlo-host/pkg/errs"
)

const httpTransport = "http"

// NewHTTPServer mounts the admin/debug REST mirror described in spec
// §4.8: /healthz, /metrics, and a thin REST echo of every tool call,
// for kahlohostctl and manual operator use. Route grouping and
// middleware chaining follow pkg/api/server.go's shape.
func (f *Facade) NewHTTPServer() *echo.Echo {
	e := echo.New()
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(securityHeaders())
	e.Use(middleware.BodyLimit(2 * 1024 * 1024))

	e.GET("/healthz", func(c *echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(f.Registry(), promhttp.HandlerOpts{})))

	v1 := e.Group("/api/v1")

	httpTool(v1, f, http.MethodGet, "/devices", "devices.list", f.DevicesList)
	httpTool(v1, f, http.MethodGet, "/devices/:device_id", "devices.get", f.DevicesGet)
	httpTool(v1, f, http.MethodGet, "/devices/:device_id/health", "devices.health", f.DevicesHealth)
	httpTool(v1, f, http.MethodGet, "/devices/:device_id/processes", "processes.list", f.ProcessesList)
	httpTool(v1, f, http.MethodPost, "/adb/exec", "adb.exec", f.AdbExec)

	httpTool(v1, f, http.MethodPost, "/targets", "targets.ensure", f.EnsureTarget)
	httpTool(v1, f, http.MethodGet, "/targets/:target_id", "targets.status", f.TargetStatus)
	httpTool(v1, f, http.MethodPost, "/targets/:target_id/detach", "targets.detach", f.DetachTarget)
	httpTool(v1, f, http.MethodPost, "/targets/:target_id/snapshot", "snapshots.get", f.Snapshot)

	httpTool(v1, f, http.MethodPost, "/jobs", "jobs.start", f.JobsStart)
	httpTool(v1, f, http.MethodGet, "/jobs/:job_id", "jobs.status", f.JobsStatus)
	httpTool(v1, f, http.MethodGet, "/jobs", "jobs.list", f.JobsList)
	httpTool(v1, f, http.MethodPost, "/jobs/:job_id/cancel", "jobs.cancel", f.JobsCancel)

	httpTool(v1, f, http.MethodGet, "/events", "events.fetch", f.EventsFetch)

	httpTool(v1, f, http.MethodGet, "/artifacts", "artifacts.list", f.ArtifactsList)
	httpTool(v1, f, http.MethodGet, "/artifacts/:artifact_id", "artifacts.get", f.ArtifactsGet)

	httpTool(v1, f, http.MethodGet, "/modules", "modules.list", f.ModulesList)
	httpTool(v1, f, http.MethodGet, "/modules/:name/:version", "modules.get", f.ModulesGet)
	httpTool(v1, f, http.MethodPost, "/drafts", "modules.createDraft", f.ModulesCreateDraft)
	httpTool(v1, f, http.MethodPost, "/drafts/fromJob", "modules.createDraftFromJob", f.ModulesCreateDraftFromJob)
	httpTool(v1, f, http.MethodPatch, "/drafts/:draft_id", "modules.updateDraft", f.ModulesUpdateDraft)
	httpTool(v1, f, http.MethodGet, "/drafts/:draft_id", "modules.getDraft", f.ModulesGetDraft)
	httpTool(v1, f, http.MethodGet, "/drafts", "modules.listDrafts", f.ModulesListDrafts)
	httpTool(v1, f, http.MethodPost, "/drafts/:draft_id/promote", "modules.promoteDraft", f.ModulesPromoteDraft)
	httpTool(v1, f, http.MethodPost, "/jobs/:job_id/promote", "modules.promoteFromJob", f.ModulesPromoteFromJob)

	return e
}

// securityHeaders mirrors pkg/api/middleware.go's standard response
// header hardening.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// httpTool registers one operation behind an HTTP route, binding the
// request body (and any echo path params the wrapping closure injects)
// into In, dispatching through the same metrics path as the MCP
// transport, and writing the shared Envelope — generalizing
// pkg/api/errors.go's mapServiceError into one status-from-code switch
// (envelope.go's httpStatus) instead of one typed-error branch per
// service.
func httpTool[In, Out any](g *echo.Group, f *Facade, method, path, name string, handler handlerFunc[In, Out]) {
	g.Add(method, path, func(c *echo.Context) error {
		var in In
		if err := c.Bind(&in); err != nil {
			return c.JSON(http.StatusBadRequest, Envelope{Error: newErrorEnvelope(name, errs.TargetManagerError(errs.CodeInvalidArgument, "decode request: %v", err))})
		}
		out, err := dispatch(c.Request().Context(), f, name, httpTransport, handler, in)
		if err != nil {
			env := newErrorEnvelope(name, err)
			return c.JSON(httpStatus(errs.CodeOf(err)), Envelope{Ok: false, Error: env})
		}
		return c.JSON(http.StatusOK, Envelope{Ok: true, Result: out})
	})
}
