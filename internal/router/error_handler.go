package router

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "starterkit/internal/errors"
)

// ErrorHandler renders every failure as {success:false, message[, errors]}.
// Domain errors go through apperrors.MapErrorToHTTP; echo's own errors keep
// their status; 5xx never carry details.
func ErrorHandler(log *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var resp *apperrors.HTTPError
		var echoErr *echo.HTTPError
		if errors.As(err, &echoErr) {
			msg, ok := echoErr.Message.(string)
			if !ok {
				msg = http.StatusText(echoErr.Code)
			}
			resp = apperrors.NewHTTPError(echoErr.Code, msg, "")
		} else {
			resp = apperrors.MapErrorToHTTP(err)
		}

		ctx := c.Request().Context()
		switch {
		case errors.Is(err, apperrors.ErrNotAuthenticated):
			log.ErrorContext(ctx, "handler reached without identity", "path", c.Path(), "method", c.Request().Method)
		case resp.StatusCode >= http.StatusInternalServerError:
			log.ErrorContext(ctx, "request failed", "path", c.Path(), "err", err)
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			resp.Message = "Server error"
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(resp.StatusCode)
		} else {
			writeErr = c.JSON(resp.StatusCode, resp.ToErrorResponse())
		}
		if writeErr != nil {
			log.ErrorContext(ctx, "write error response", "err", writeErr)
		}
	}
}
