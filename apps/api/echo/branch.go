package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/shulehq/shule/core"
	"github.com/shulehq/shule/core/branch"
	"github.com/shulehq/shule/core/identity"
)

type branchApi struct {
	svc      branch.Service
	validate *validator.Validate
}

func registerBranchAPI(
	g *echo.Group,
	gate echo.MiddlewareFunc,
	svc branch.Service,
	idtSvc identity.Service,
	validate *validator.Validate,
) {
	api := branchApi{
		svc:      svc,
		validate: validate,
	}

	bg := g.Group("/branches", gate)
	bg.GET("", api.query)
	bg.GET("/:id", api.retrieve)

	// mutations are for SuperAdmins only
	sa := requireRolesMiddleware(idtSvc, identity.RoleSuperAdmin)
	bg.POST("", api.create, sa)
	bg.PUT("/:id", api.update, sa)
	bg.DELETE("/:id", api.destroy, sa)
}

func (api *branchApi) create(ctx echo.Context) error {
	var data branch.NewBranch
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewBranch")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	b, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating branch")
	}
	return ctx.JSON(http.StatusCreated, b)
}

func (api *branchApi) query(ctx echo.Context) error {
	ordering := new(Ordering)
	ordering.Bind(ctx, branchOrderingFields...)

	branches, err := api.svc.Query(ctx.Request().Context(), ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying branches")
	}
	if branches == nil {
		branches = []branch.Branch{}
	}
	return ctx.JSON(http.StatusOK, branches)
}

func (api *branchApi) retrieve(ctx echo.Context) error {
	b, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if core.IsKind(err, core.KindNotFound) {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding branch by ID")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *branchApi) update(ctx echo.Context) error {
	var data branch.UpdateBranch
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateBranch")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	b, err := api.svc.Update(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating branch")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *branchApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting branch")
	}
	return ctx.NoContent(http.StatusNoContent)
}
