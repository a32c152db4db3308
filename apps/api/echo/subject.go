package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sjsfi/lms/core/subject"
)

type subjectApi struct {
	svc *subject.Service
}

// registerSubjectAPI registers the catalogue, instance, requirement and submission endpoints.
// Authorization is left to subject.Service, which checks the principal on every operation.
func registerSubjectAPI(g *echo.Group, opts *Options) {
	api := subjectApi{svc: opts.SubjectSvc}

	sg := g.Group("/subjects")
	sg.GET("", api.querySubjects)
	sg.POST("", api.createSubject)
	sg.DELETE("/:id", api.destroySubject)

	ig := g.Group("/instances")
	ig.GET("", api.queryOwnInstances)
	ig.POST("", api.createInstance)
	ig.GET("/available", api.queryAvailable)
	ig.GET("/:id", api.retrieveInstance)
	ig.PATCH("/:id", api.updateInstance)
	ig.GET("/:id/requirements", api.queryRequirements)
	ig.POST("/:id/requirements", api.createRequirement)

	rg := g.Group("/requirements")
	rg.GET("/:id", api.retrieveRequirement)
	rg.PATCH("/:id", api.updateRequirement)
	rg.DELETE("/:id", api.destroyRequirement)
	rg.POST("/:id/submission", api.submit)
	rg.GET("/:id/submissions", api.querySubmissions)

	g.PUT("/submissions/:id/grade", api.grade)
}

// Subjects

func (api *subjectApi) querySubjects(ctx echo.Context) error {
	subjs, err := api.svc.ListSubjects(ctx.Request().Context(), getContextPrincipal(ctx))
	if err != nil {
		return errors.Wrap(err, "listing subjects")
	}
	if subjs == nil {
		subjs = []subject.Subject{}
	}
	return ctx.JSON(http.StatusOK, subjs)
}

func (api *subjectApi) createSubject(ctx echo.Context) error {
	var data subject.NewSubject
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubject")
	}
	subj, err := api.svc.CreateSubject(ctx.Request().Context(), getContextPrincipal(ctx), data)
	if err != nil {
		return errors.Wrap(err, "creating subject")
	}
	return ctx.JSON(http.StatusCreated, subj)
}

func (api *subjectApi) destroySubject(ctx echo.Context) error {
	if err := api.svc.DeleteSubject(ctx.Request().Context(), getContextPrincipal(ctx), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting subject")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Instances

func (api *subjectApi) queryOwnInstances(ctx echo.Context) error {
	insts, err := api.svc.ListOwnInstances(ctx.Request().Context(), getContextPrincipal(ctx))
	if err != nil {
		return errors.Wrap(err, "listing own instances")
	}
	return ctx.JSON(http.StatusOK, instancesOrEmpty(insts))
}

func (api *subjectApi) queryAvailable(ctx echo.Context) error {
	insts, err := api.svc.ListAvailable(ctx.Request().Context(), getContextPrincipal(ctx))
	if err != nil {
		return errors.Wrap(err, "listing available instances")
	}
	return ctx.JSON(http.StatusOK, instancesOrEmpty(insts))
}

func (api *subjectApi) createInstance(ctx echo.Context) error {
	var data subject.NewInstance
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewInstance")
	}
	inst, err := api.svc.CreateInstance(ctx.Request().Context(), getContextPrincipal(ctx), data)
	if err != nil {
		return errors.Wrap(err, "creating subject instance")
	}
	return ctx.JSON(http.StatusCreated, inst)
}

func (api *subjectApi) retrieveInstance(ctx echo.Context) error {
	inst, err := api.svc.GetOwnInstance(ctx.Request().Context(), getContextPrincipal(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding subject instance")
	}
	return ctx.JSON(http.StatusOK, inst)
}

func (api *subjectApi) updateInstance(ctx echo.Context) error {
	var data subject.UpdateInstance
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateInstance")
	}
	inst, err := api.svc.UpdateInstance(ctx.Request().Context(), getContextPrincipal(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating subject instance")
	}
	return ctx.JSON(http.StatusOK, inst)
}

// Requirements

func (api *subjectApi) queryRequirements(ctx echo.Context) error {
	reqs, err := api.svc.ListRequirements(ctx.Request().Context(), getContextPrincipal(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing requirements")
	}
	if reqs == nil {
		reqs = []subject.Requirement{}
	}
	return ctx.JSON(http.StatusOK, reqs)
}

func (api *subjectApi) createRequirement(ctx echo.Context) error {
	var data subject.NewRequirement
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRequirement")
	}
	req, err := api.svc.CreateRequirement(ctx.Request().Context(), getContextPrincipal(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "creating requirement")
	}
	return ctx.JSON(http.StatusCreated, req)
}

func (api *subjectApi) retrieveRequirement(ctx echo.Context) error {
	detail, err := api.svc.GetRequirementDetail(ctx.Request().Context(), getContextPrincipal(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding requirement")
	}
	return ctx.JSON(http.StatusOK, detail)
}

func (api *subjectApi) updateRequirement(ctx echo.Context) error {
	var data subject.UpdateRequirement
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateRequirement")
	}
	req, err := api.svc.UpdateRequirement(ctx.Request().Context(), getContextPrincipal(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating requirement")
	}
	return ctx.JSON(http.StatusOK, req)
}

func (api *subjectApi) destroyRequirement(ctx echo.Context) error {
	if err := api.svc.DeleteRequirement(ctx.Request().Context(), getContextPrincipal(ctx), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting requirement")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Submissions

func (api *subjectApi) submit(ctx echo.Context) error {
	var data subject.NewSubmission
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubmission")
	}
	sub, err := api.svc.Submit(ctx.Request().Context(), getContextPrincipal(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "submitting")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *subjectApi) querySubmissions(ctx echo.Context) error {
	subs, err := api.svc.ListSubmissions(ctx.Request().Context(), getContextPrincipal(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing submissions")
	}
	if subs == nil {
		subs = []subject.Submission{}
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *subjectApi) grade(ctx echo.Context) error {
	var data subject.Grade
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Grade")
	}
	sub, err := api.svc.GradeSubmission(ctx.Request().Context(), getContextPrincipal(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "grading submission")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func instancesOrEmpty(insts []subject.InstanceDetail) []subject.InstanceDetail {
	if insts == nil {
		return []subject.InstanceDetail{}
	}
	return insts
}
