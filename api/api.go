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
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/qzd-finance/qzd"
	"github.com/qzd-finance/qzd/api/middleware"
)

type Api struct {
	qzd    *qzd.Qzd
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(a.qzd.Metrics().Handler()))

	signed := router.Group("/", middleware.SignedMutation(a.qzd))

	signed.POST("/auth/register", a.Register)
	signed.POST("/auth/login", a.Login)

	signed.POST("/accounts", a.CreateAccount)
	signed.GET("/accounts/:id", a.GetAccount)
	signed.GET("/accounts/:id/transactions", a.GetAccountTransactions)
	signed.POST("/accounts/:id/cash-in", a.CashIn)

	signed.POST("/transfers", a.Transfer)
	signed.GET("/transactions/:id", a.GetTransaction)

	signed.POST("/issuances", a.CreateIssuance)
	signed.GET("/issuances", a.GetAllIssuances)
	signed.GET("/issuances/:id", a.GetIssuance)
	signed.GET("/issuances/:id/payload", a.GetIssuancePayload)
	signed.POST("/issuances/:id/sign", a.SignIssuance)
	signed.POST("/issuances/:id/mint", a.MintIssuance)
	signed.GET("/ledger", a.GetLedger)
	signed.GET("/ledger/:index", a.GetLedgerEntry)

	signed.POST("/vouchers", a.IssueVoucher)
	signed.GET("/vouchers/:code", a.GetVoucher)
	signed.POST("/vouchers/:code/redeem", a.RedeemVoucher)
	signed.POST("/offline-vouchers", a.CreateOfflineVoucher)
	signed.GET("/offline-vouchers/:id", a.GetOfflineVoucher)
	signed.POST("/offline-vouchers/:id/redeem", a.RedeemOfflineVoucher)

	signed.GET("/alerts", a.GetAlerts)
	signed.POST("/alerts/:id/ack", a.AcknowledgeAlert)

	admin := signed.Group("/admin", middleware.SecretKeyAuthMiddleware(a.qzd.Config()))
	admin.GET("/dead-letters", a.GetDeadLetters)
	admin.POST("/dead-letters/retry", a.RetryDeadLetters)
	admin.POST("/reconcile", a.Reconcile)
	admin.POST("/accounts/:id/freeze", a.FreezeAccount)
	admin.POST("/accounts/:id/unfreeze", a.UnfreezeAccount)

	return a.router
}

func NewAPI(q *qzd.Qzd) *Api {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("qzd"))
	r.Use(middleware.MetricsMiddleware(q.Metrics()))
	r.Use(middleware.RateLimitMiddleware(q.Config()))
	return &Api{qzd: q, router: r}
}
