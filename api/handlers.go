/*
Copyright 2024 QZD Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qzd-finance/qzd"
	"github.com/qzd-finance/qzd/api/middleware"
	"github.com/qzd-finance/qzd/internal/apierror"
)

func respondError(c *gin.Context, err error) {
	c.JSON(apierror.MapErrorToHTTPStatus(err), middleware.ErrorResponse(err))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, middleware.ErrorResponse(apierror.NewAPIError(apierror.ErrBadRequest, err.Error(), nil)))
}

func invalidInput(c *gin.Context, err error) {
	c.JSON(http.StatusUnprocessableEntity, middleware.ErrorResponse(apierror.NewAPIError(apierror.ErrInvalidInput, "validation failed", err)))
}

// bind decodes the signed body into dst and runs validate. It writes the error response
// and returns false on failure.
func bind(c *gin.Context, dst interface{}, validate func() error) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, err)
		return false
	}
	if validate != nil {
		if err := validate(); err != nil {
			invalidInput(c, err)
			return false
		}
	}
	return true
}

// mutation fetches the authenticated mutation context set by middleware.SignedMutation.
func mutation(c *gin.Context) (qzd.MutationContext, bool) {
	mctx, ok := middleware.Mutation(c)
	if !ok {
		respondError(c, apierror.NewAPIError(apierror.ErrUnauthorized, "request is not signed", nil))
		return mctx, false
	}
	return mctx, true
}
