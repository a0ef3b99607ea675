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

package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qzd-finance/qzd"
	"github.com/qzd-finance/qzd/internal/apierror"
)

const mutationKey = "qzd.mutation"

// maxBodyBytes bounds the body read before the signature is checked.
const maxBodyBytes = 1 << 20

// MutationValidator authenticates a signed mutation.
type MutationValidator interface {
	ValidateMutation(ctx context.Context, meta qzd.RequestMeta, body []byte) (qzd.MutationContext, error)
}

// SignedMutation verifies the idempotency key, nonce and signature of every non-GET request
// and stores the resulting MutationContext for the handler. The body is restored so handlers
// can bind it.
func SignedMutation(validator MutationValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			c.Next()
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
		if err != nil {
			abortWithError(c, apierror.NewAPIError(apierror.ErrBadRequest, "could not read request body", nil))
			return
		}
		if len(body) > maxBodyBytes {
			abortWithError(c, apierror.NewAPIError(apierror.ErrPayloadTooLarge, "request body exceeds 1MB", nil))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		meta := qzd.RequestMeta{
			Method:         c.Request.Method,
			Path:           c.Request.URL.Path,
			IdempotencyKey: c.GetHeader(qzd.HeaderIdempotencyKey),
			Nonce:          c.GetHeader(qzd.HeaderNonce),
			Signature:      c.GetHeader(qzd.HeaderSignature),
		}
		mctx, err := validator.ValidateMutation(c.Request.Context(), meta, body)
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.Set(mutationKey, mctx)
		c.Next()
	}
}

// Mutation returns the MutationContext stored by SignedMutation.
func Mutation(c *gin.Context) (qzd.MutationContext, bool) {
	value, ok := c.Get(mutationKey)
	if !ok {
		return qzd.MutationContext{}, false
	}
	mctx, ok := value.(qzd.MutationContext)
	return mctx, ok
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apierror.MapErrorToHTTPStatus(err), ErrorResponse(err))
}

// ErrorResponse renders err as {"error": {code, message, details}}. Errors without a code are
// reported as internal errors.
func ErrorResponse(err error) gin.H {
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		return gin.H{"error": apiErr}
	}
	return gin.H{"error": apierror.NewAPIError(apierror.ErrInternalServer, err.Error(), nil)}
}
