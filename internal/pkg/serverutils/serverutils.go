package serverutils

import (
	"errors"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"abilico-inference/pkg/modelcache"
	"abilico-inference/pkg/schema"
	"abilico-inference/pkg/store"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{Success: true, Message: message, Data: data}
}

var validate = validator.New()

func ValidateRequest(req interface{}) error {
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

// ErrorHandlerMiddleware translates typed engine errors into HTTP statuses.
// Upstream artifact failures read as bad gateway, everything unexpected as
// internal error.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		status := fiber.StatusInternalServerError
		var fiberErr *fiber.Error
		var schemaErr *schema.SchemaError
		var fetchErr *modelcache.FetchError
		var storeErr *store.StoreError
		switch {
		case errors.As(err, &fiberErr):
			status = fiberErr.Code
		case errors.As(err, &schemaErr), errors.As(err, &fetchErr):
			status = fiber.StatusBadGateway
		case errors.As(err, &storeErr):
			status = fiber.StatusServiceUnavailable
		}

		if status >= fiber.StatusInternalServerError {
			log.Printf("[ERROR] HTTP %s %s: %v", ctx.Method(), ctx.Path(), err)
		}
		return ctx.Status(status).JSON(APIResponse{Success: false, Message: err.Error()})
	}
}
