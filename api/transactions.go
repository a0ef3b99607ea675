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

func (a Api) Transfer(c *gin.Context) {
	mctx, ok := mutation(c)
	if !ok {
		return
	}
	var transfer model2.Transfer
	if !bind(c, &transfer, transfer.ValidateTransfer) {
		return
	}

	txn, err := a.qzd.Transfer(c.Request.Context(), mctx, transfer.ToJob())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

func (a Api) GetTransaction(c *gin.Context) {
	txn, err := a.qzd.Lookup(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}
