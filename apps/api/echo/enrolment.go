package echoapi

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/enrolment"
)

type enrolmentApi struct {
	svc *enrolment.Service
}

func registerEnrolmentAPI(g *echo.Group, opts *Options) {
	api := enrolmentApi{svc: opts.EnrolmentSvc}

	eg := g.Group("/enrolments")
	eg.GET("", api.queryEnrolled)
	eg.POST("", api.enrol)
	eg.POST("/:instanceID/acknowledge", api.acknowledge)
}

type EnrolRequest struct {
	InstanceID string    `json:"subject_instance_id"`
	Code       enrolCode `json:"enrolment_code"`
}

// enrolCode is sent either as a JSON string or a number.
type enrolCode string

func (c *enrolCode) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*c = enrolCode(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*c = enrolCode(s)
	return nil
}

// enrol answers every validation failure with its Result; the status follows the failure code.
func (api *enrolmentApi) enrol(ctx echo.Context) error {
	var data EnrolRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EnrolRequest")
	}

	var callerID string
	if sess, err := getContextSession(ctx); err == nil {
		callerID = sess.CallerID
	}
	res, err := api.svc.Enrol(ctx.Request().Context(), callerID, core.CleanString(data.InstanceID), string(data.Code))
	if err != nil {
		return errors.Wrap(err, "enrolling")
	}
	if !res.Success {
		return ctx.JSON(statusOf(res.Error), res)
	}
	return ctx.JSON(http.StatusCreated, res)
}

func (api *enrolmentApi) queryEnrolled(ctx echo.Context) error {
	list, err := api.svc.ListEnrolled(ctx.Request().Context(), getContextPrincipal(ctx))
	if err != nil {
		return errors.Wrap(err, "listing enrolled instances")
	}
	if list == nil {
		list = []enrolment.EnrolledInstance{}
	}
	return ctx.JSON(http.StatusOK, list)
}

// acknowledge clears the new content flag once the student opens the instance.
func (api *enrolmentApi) acknowledge(ctx echo.Context) error {
	err := api.svc.Acknowledge(ctx.Request().Context(), getContextPrincipal(ctx), ctx.Param("instanceID"))
	if err != nil {
		return errors.Wrap(err, "acknowledging new content")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "ok"})
}
