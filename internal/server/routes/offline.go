package routes

import (
	"context"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/certgen/certgen/internal/offline"
	"github.com/certgen/certgen/internal/server"
)

// RegisterOfflineRoutes 暴露 /-/offline 诊断接口，供运维查询各站点的缓存代号与 worker 状态。
func RegisterOfflineRoutes(app *fiber.App, registry *server.SiteRegistry) {
	if app == nil || registry == nil {
		return
	}

	app.Get("/-/offline", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"sites": encodeSites(c.Context(), registry.List()),
		})
	})

	app.Get("/-/offline/:site", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("site"))
		for _, route := range registry.List() {
			if route.Config.Name != name {
				continue
			}
			return c.JSON(encodeSite(c.Context(), route))
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "site_not_found"})
	})
}

func encodeSites(ctx context.Context, routes []*server.SiteRoute) []offline.Status {
	if len(routes) == 0 {
		return []offline.Status{}
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Config.Name < routes[j].Config.Name
	})
	result := make([]offline.Status, 0, len(routes))
	for _, route := range routes {
		result = append(result, encodeSite(ctx, route))
	}
	return result
}

// encodeSite 对未启用离线接管的站点只输出配置部分。
func encodeSite(ctx context.Context, route *server.SiteRoute) offline.Status {
	if route.Container != nil {
		return route.Container.Status(ctx)
	}
	site := route.Config
	return offline.Status{
		Site:              site.Name,
		Domain:            site.Domain,
		Origin:            site.Origin,
		Scope:             site.Scope,
		ConfiguredVersion: site.CacheVersion,
		RegistrationURL:   offline.RegistrationURL(site.Scope, site.ScriptName, site.ScriptVersion),
		Generations:       []string{},
	}
}
