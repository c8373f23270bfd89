package routers

import (
	"errors"
	"io"
	"net/http"

	"gridhub/internal/ctx"
	"gridhub/internal/handlers/inference"
	"gridhub/internal/shared"

	"github.com/labstack/echo/v4"
)

type InferenceRouter struct {
	ih *inference.InferenceHandler
}

func RegisterInferenceRoutes(e *echo.Group, ih *inference.InferenceHandler) {
	inferenceRouter := InferenceRouter{ih: ih}

	v1 := e.Group("/v1")
	v1.GET("/models", inferenceRouter.GetModels)
	v1.POST("/chat/completions", inferenceRouter.ChatRequest)

	api := e.Group("/api")
	api.GET("/tags", inferenceRouter.GetTags)
	api.GET("/registry", inferenceRouter.GetRegistry)
}

func (ir *InferenceRouter) GetModels(cc echo.Context) error {
	return cc.JSON(200, ir.ih.ListModels())
}

func (ir *InferenceRouter) GetTags(cc echo.Context) error {
	return cc.JSON(200, ir.ih.ListTags())
}

type registryResponse struct {
	Nodes []shared.NodeView `json:"nodes"`
}

func (ir *InferenceRouter) GetRegistry(cc echo.Context) error {
	return cc.JSON(200, registryResponse{Nodes: ir.ih.ListNodes()})
}

func (ir *InferenceRouter) ChatRequest(cc echo.Context) error {
	c := cc.(*ctx.Context)
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		c.LogValues.AddError(err)
		return c.JSON(http.StatusBadRequest, shared.NewOpenAIError(http.StatusBadRequest, "BadRequest", "failed to read request body"))
	}

	reqInfo, preErr := ir.ih.Preprocess(inference.PreprocessInput{
		Body:      body,
		Endpoint:  shared.ChatCompletionsPath,
		RequestID: "inf_" + shared.NewID(28),
	})
	if preErr != nil {
		c.LogValues.AddError(preErr)
		return writeRequestError(c, preErr)
	}
	c.LogValues.InferenceID = reqInfo.ID
	c.LogValues.Model = reqInfo.Model
	c.LogValues.Stream = reqInfo.Stream

	input := inference.InferenceInput{
		Req: reqInfo,
		Ctx: c.Request().Context(),
		LogFields: map[string]string{
			"request_id":   c.Reqid,
			"inference_id": reqInfo.ID,
			"model":        reqInfo.Model,
		},
	}
	if reqInfo.Stream {
		input.StreamWriter = createStreamCallback(c)
	}

	out, reqErr := ir.ih.DoInference(input)

	// Nothing has been written to the caller yet
	if reqErr != nil {
		c.LogValues.AddError(reqErr)
		return writeRequestError(c, reqErr)
	}

	c.LogValues.NodeID = out.Metadata.NodeID
	c.LogValues.Chunks = out.Metadata.Chunks
	if out.Error != nil {
		c.LogValues.AddError(out.Error)
		if !out.Metadata.Canceled {
			c.LogValues.LogLevel = "ERROR"
		}
	}

	if reqInfo.Stream {
		if !c.Response().Committed {
			// Caller left before the first frame
			c.Response().WriteHeader(499)
		}
		return nil
	}
	if out.Error != nil {
		if errors.Is(out.Error, c.Request().Context().Err()) {
			c.Response().WriteHeader(499)
			return nil
		}
		return writeRequestError(c, out.Error)
	}

	c.Response().Header().Set("Content-Type", "application/json")
	c.Response().WriteHeader(http.StatusOK)
	if _, err := c.Response().Write(out.FinalResponse); err != nil {
		c.LogValues.AddError(errors.Join(errors.New("failed writing final response"), err))
		c.LogValues.LogLevel = "ERROR"
		return err
	}
	return nil
}
