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

	model2 "github.com/qzd-finance/qzd/api/model"
)

func (a Api) CreateAccount(c *gin.Context) {
	mctx, ok := mutation(c)
	if !ok {
		return
	}
	var newAccount model2.CreateAccount
	if !bind(c, &newAccount, newAccount.ValidateCreateAccount) {
		return
	}

	resp, err := a.qzd.CreateAccount(c.Request.Context(), mctx, newAccount.ToRequest())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetAccount(c *gin.Context) {
	account, err := a.qzd.GetAccount(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (a Api) GetAccountTransactions(c *gin.Context) {
	history, err := a.qzd.History(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (a Api) CashIn(c *gin.Context) {
	mctx, ok := mutation(c)
	if !ok {
		return
	}
	var cashIn model2.CashIn
	if !bind(c, &cashIn, cashIn.ValidateCashIn) {
		return
	}

	txn, err := a.qzd.AgentCashIn(c.Request.Context(), mctx, cashIn.ToJob(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

func (a Api) FreezeAccount(c *gin.Context) {
	mctx, ok := mutation(c)
	if !ok {
		return
	}
	account, err := a.qzd.FreezeAccount(c.Request.Context(), mctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (a Api) UnfreezeAccount(c *gin.Context) {
	mctx, ok := mutation(c)
	if !ok {
		return
	}
	account, err := a.qzd.UnfreezeAccount(c.Request.Context(), mctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (a Api) Register(c *gin.Context) {
	mctx, ok := mutation(c)
	if !ok {
		return
	}
	var creds model2.Credentials
	if !bind(c, &creds, creds.ValidateCredentials) {
		return
	}

	result, err := a.qzd.Register(c.Request.Context(), mctx, creds.ToCredentials())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (a Api) Login(c *gin.Context) {
	mctx, ok := mutation(c)
	if !ok {
		return
	}
	var creds model2.Credentials
	if !bind(c, &creds, creds.ValidateCredentials) {
		return
	}

	result, err := a.qzd.Login(c.Request.Context(), mctx, creds.ToCredentials())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
