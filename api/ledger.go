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
	"strconv"

	"github.com/gin-gonic/gin"

	model2 "github.com/qzd-finance/qzd/api/model"
)

func (a Api) CreateIssuance(c *gin.Context) {
	mctx, ok := mutation(c)
	if !ok {
		return
	}
	var issuance model2.CreateIssuance
	if !bind(c, &issuance, issuance.ValidateCreateIssuance) {
		return
	}

	resp, err := a.qzd.CreateIssuance(c.Request.Context(), mctx, issuance.ToRequest())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetIssuance(c *gin.Context) {
	issuance, err := a.qzd.GetIssuance(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, issuance)
}

func (a Api) GetAllIssuances(c *gin.Context) {
	c.JSON(http.StatusOK, a.qzd.ListIssuances())
}

// GetIssuancePayload returns what validators have to sign.
func (a Api) GetIssuancePayload(c *gin.Context) {
	payload, err := a.qzd.GetIssuancePayload(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (a Api) SignIssuance(c *gin.Context) {
	mctx, ok := mutation(c)
	if !ok {
		return
	}
	var sig model2.SignIssuance
	if !bind(c, &sig, sig.ValidateSignIssuance) {
		return
	}

	resp, err := a.qzd.SignIssuance(c.Request.Context(), mctx, c.Param("id"), sig.ToRequest())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) MintIssuance(c *gin.Context) {
	mctx, ok := mutation(c)
	if !ok {
		return
	}
	txn, err := a.qzd.MintIssuance(c.Request.Context(), mctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

func (a Api) GetLedger(c *gin.Context) {
	c.JSON(http.StatusOK, a.qzd.LedgerEntries())
}

func (a Api) GetLedgerEntry(c *gin.Context) {
	index, err := strconv.ParseInt(c.Param("index"), 10, 64)
	if err != nil {
		badRequest(c, err)
		return
	}
	entry, err := a.qzd.LedgerEntry(index)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}
