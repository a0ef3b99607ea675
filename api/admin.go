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
)

func (a Api) GetAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, a.qzd.Alerts())
}

func (a Api) AcknowledgeAlert(c *gin.Context) {
	mctx, ok := mutation(c)
	if !ok {
		return
	}
	alert, err := a.qzd.AcknowledgeAlert(c.Request.Context(), mctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (a Api) GetDeadLetters(c *gin.Context) {
	c.JSON(http.StatusOK, a.qzd.DeadLetters())
}

// RetryDeadLetters re-runs every dead-lettered job once. The summary is memoized per scope.
func (a Api) RetryDeadLetters(c *gin.Context) {
	mctx, ok := mutation(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	summary, err := qzd.ApplyIdempotency(ctx, a.qzd.Security(), mctx, func() (qzd.RetrySummary, error) {
		return a.qzd.RetryFailedTransactions(ctx), nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (a Api) Reconcile(c *gin.Context) {
	mctx, ok := mutation(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	report, err := qzd.ApplyIdempotency(ctx, a.qzd.Security(), mctx, func() (qzd.ReconciliationReport, error) {
		return a.qzd.ReconcileBalances(ctx), nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
