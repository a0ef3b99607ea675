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

func (a Api) IssueVoucher(c *gin.Context) {
	mctx, ok := mutation(c)
	if !ok {
		return
	}
	var voucher model2.IssueVoucher
	if !bind(c, &voucher, voucher.ValidateIssueVoucher) {
		return
	}

	resp, err := a.qzd.IssueVoucher(c.Request.Context(), mctx, voucher.ToRequest())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetVoucher(c *gin.Context) {
	voucher, err := a.qzd.GetVoucher(c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, voucher)
}

func (a Api) RedeemVoucher(c *gin.Context) {
	mctx, ok := mutation(c)
	if !ok {
		return
	}
	var redeem model2.RedeemVoucher
	if !bind(c, &redeem, redeem.ValidateRedeemVoucher) {
		return
	}

	voucher, err := a.qzd.RedeemVoucher(c.Request.Context(), mctx, c.Param("code"), redeem.AgentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, voucher)
}

func (a Api) CreateOfflineVoucher(c *gin.Context) {
	mctx, ok := mutation(c)
	if !ok {
		return
	}
	var voucher model2.CreateOfflineVoucher
	if !bind(c, &voucher, voucher.ValidateCreateOfflineVoucher) {
		return
	}

	resp, err := a.qzd.CreateOfflineVoucher(c.Request.Context(), mctx, voucher.ToRequest())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetOfflineVoucher(c *gin.Context) {
	voucher, err := a.qzd.GetOfflineVoucher(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, voucher)
}

func (a Api) RedeemOfflineVoucher(c *gin.Context) {
	mctx, ok := mutation(c)
	if !ok {
		return
	}
	var redeem model2.RedeemOfflineVoucher
	if !bind(c, &redeem, redeem.ValidateRedeemOfflineVoucher) {
		return
	}

	txn, err := a.qzd.RedeemOfflineVoucher(c.Request.Context(), mctx, c.Param("id"), redeem.ToAccountID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}
