package webapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	obscura "github.com/obscuranet/obscurawallet/pkg"
	"github.com/obscuranet/obscurawallet/pkg/conductor"
)

// WebAPI implements conductor.Service
type WebAPI struct {
	api    obscura.API
	config obscura.Config
}

// interface guard ensures WebAPI implements conductor.Service
var _ conductor.Service = WebAPI{}

func NewWebAPI(config obscura.Config, api obscura.API) (WebAPI, error) {
	return WebAPI{api: api, config: config}, nil
}

func (t WebAPI) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		mux := t.createRouter()

		server := &http.Server{Addr: t.config.WebAPI.AdminBind + ":" + t.config.WebAPI.AdminPort, Handler: mux}
		fmt.Printf("\nAdmin API listening on %s:%s", t.config.WebAPI.AdminBind, t.config.WebAPI.AdminPort)
		go func() {
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				log.Fatalf("HTTP server admin ListenAndServe: %v", err)
			}
		}()

		started <- true
		ctx := <-stop
		server.Shutdown(ctx)
		stopped <- true
	}()
	return nil
}

func (t WebAPI) createRouter() *httprouter.Router {
	mux := httprouter.New()

	mux.POST("/admin/setsyncheight/:blockheight", t.setSyncHeight)

	// POST { name, entropy? } /account -> { account } create or import
	mux.POST("/account", t.createAccount)

	// GET /accounts -> [ { account }, .. ]
	mux.GET("/accounts", t.listAccounts)

	// GET /account/:accountID -> { account }
	mux.GET("/account/:accountID", t.getAccount)

	// GET /account/:accountID/balance -> { balance }
	mux.GET("/account/:accountID/balance", t.getAccountBalance)

	// POST /account/:accountID/subaddress -> { address } assign the next subaddress
	mux.POST("/account/:accountID/subaddress", t.assignSubaddress)

	// GET /account/:accountID/address/qr.png -> QR code for the main address
	mux.GET("/account/:accountID/address/qr.png", t.getAddressQR)

	// GET /account/:accountID/txos -> [ { txo }, .. ]
	mux.GET("/account/:accountID/txos", t.listTxos)

	// GET /account/:accountID/txo/:txoID -> { txo }
	mux.GET("/account/:accountID/txo/:txoID", t.getTxo)

	// POST { outlays, fee } /account/:accountID/pay -> { txo_ids, confirmations, .. }
	mux.POST("/account/:accountID/pay", t.pay)

	// POST { txo_id, confirmation } /account/:accountID/verify -> { verified }
	mux.POST("/account/:accountID/verify", t.verifyConfirmation)

	// POST { txo_ids } /payment-status -> { all_spent, failed }
	mux.POST("/payment-status", t.paymentStatus)

	// POST { value, fee, memo } /account/:accountID/giftcode -> { code }
	mux.POST("/account/:accountID/giftcode", t.createGiftCode)

	mux.GET("/giftcodes", t.listGiftCodes)
	mux.GET("/giftcode/:code", t.getGiftCode)

	// POST { name } /giftcode/:code/claim -> { account } import the gift account
	mux.POST("/giftcode/:code/claim", t.claimGiftCode)

	return mux
}

// setSyncHeight rewinds the sync checkpoint, causing the sync driver to
// re-scan the ledger from that height.
//
// WARNING: on an active instance this PAUSES the discovery of new
// activity until the re-scan completes. USE WITH CAUTION.
func (t WebAPI) setSyncHeight(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	n, err := strconv.ParseInt(p.ByName("blockheight"), 10, 64)
	if err != nil {
		sendBadRequest(w, "blockheight invalid, must convert to int64")
		return
	}

	err = t.api.SetSyncHeight(n)
	if err != nil {
		sendError(w, "SetSyncHeight", err)
		return
	}
	sendResponse(w, "Set sync height")
}

type CreateAccountRequest struct {
	Name    string `json:"name"`
	Entropy string `json:"entropy"` // optional hex root entropy (import)
}

func (t WebAPI) createAccount(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var o CreateAccountRequest
	err := json.NewDecoder(r.Body).Decode(&o)
	if err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body (expecting JSON): %v", err))
		return
	}
	var entropy []byte
	if o.Entropy != "" {
		entropy, err = hex.DecodeString(o.Entropy)
		if err != nil {
			sendBadRequest(w, fmt.Sprintf("bad entropy (expecting hex): %v", err))
			return
		}
	}
	acc, err := t.api.CreateAccount(o.Name, entropy)
	if err != nil {
		sendError(w, "CreateAccount", err)
		return
	}
	sendResponse(w, acc)
}

func (t WebAPI) listAccounts(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	accounts, err := t.api.ListAccounts()
	if err != nil {
		sendError(w, "ListAccounts", err)
		return
	}
	if accounts == nil {
		accounts = []obscura.AccountPublic{} // encoded as '[]' in JSON
	}
	sendResponse(w, accounts)
}

func (t WebAPI) getAccount(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("accountID")
	if id == "" {
		sendBadRequest(w, "missing account ID in URL")
		return
	}
	acc, err := t.api.GetAccount(id)
	if err != nil {
		sendError(w, "GetAccount", err)
		return
	}
	sendResponse(w, acc)
}

func (t WebAPI) getAccountBalance(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("accountID")
	if id == "" {
		sendBadRequest(w, "missing account ID in URL")
		return
	}
	bal, err := t.api.GetBalance(id)
	if err != nil {
		sendError(w, "GetBalance", err)
		return
	}
	sendResponse(w, bal)
}

func (t WebAPI) assignSubaddress(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("accountID")
	if id == "" {
		sendBadRequest(w, "missing account ID in URL")
		return
	}
	addr, err := t.api.AssignSubaddress(id)
	if err != nil {
		sendError(w, "AssignSubaddress", err)
		return
	}
	sendResponse(w, map[string]string{"address": addr})
}

func (t WebAPI) getAddressQR(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("accountID")
	if id == "" {
		sendBadRequest(w, "missing account ID in URL")
		return
	}
	acc, err := t.api.GetAccount(id)
	if err != nil {
		sendError(w, "GetAccount", err)
		return
	}
	qr, err := GenerateQRCodePNG(fmt.Sprintf("obscura:%s", acc.MainAddress), 512)
	if err != nil {
		sendError(w, "GenerateQRCodePNG", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	// The main address of an account never changes.
	w.Header().Set("Cache-Control", "max-age:=900, immutable")
	w.Write(qr)
}

func (t WebAPI) listTxos(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("accountID")
	if id == "" {
		sendBadRequest(w, "missing account ID in URL")
		return
	}
	txos, err := t.api.ListTxos(id)
	if err != nil {
		sendError(w, "ListTxos", err)
		return
	}
	if txos == nil {
		txos = []obscura.TxoPublic{} // encoded as '[]' in JSON
	}
	sendResponse(w, txos)
}

func (t WebAPI) getTxo(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("accountID")
	if id == "" {
		sendBadRequest(w, "missing account ID in URL")
		return
	}
	txoID := p.ByName("txoID")
	if txoID == "" {
		sendBadRequest(w, "missing txo ID in URL")
		return
	}
	txo, err := t.api.GetTxo(id, txoID)
	if err != nil {
		sendError(w, "GetTxo", err)
		return
	}
	sendResponse(w, txo)
}

// Pays funds from an account to one or more obscura addresses.
// POST /account/:accountID/pay { "outlays": [{"address": "...", "value": 100}], "fee": 10 }
func (t WebAPI) pay(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("accountID")
	if id == "" {
		sendBadRequest(w, "missing account ID in URL")
		return
	}
	var o obscura.SendPaymentRequest
	err := json.NewDecoder(r.Body).Decode(&o)
	if err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body (expecting JSON): %v", err))
		return
	}
	if len(o.Outlays) == 0 {
		sendBadRequest(w, "missing 'outlays' in JSON body")
		return
	}
	res, err := t.api.SendPayment(id, o)
	if err != nil {
		sendError(w, "SendPayment", err)
		return
	}
	sendResponse(w, res)
}

type VerifyConfirmationRequest struct {
	TxoID        string `json:"txo_id"`
	Confirmation string `json:"confirmation"` // hex
}

func (t WebAPI) verifyConfirmation(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("accountID")
	if id == "" {
		sendBadRequest(w, "missing account ID in URL")
		return
	}
	var o VerifyConfirmationRequest
	err := json.NewDecoder(r.Body).Decode(&o)
	if err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body (expecting JSON): %v", err))
		return
	}
	if o.TxoID == "" {
		sendBadRequest(w, "missing 'txo_id' in JSON body")
		return
	}
	verified, err := t.api.VerifyConfirmation(id, o.TxoID, o.Confirmation)
	if err != nil {
		sendError(w, "VerifyConfirmation", err)
		return
	}
	sendResponse(w, map[string]bool{"verified": verified})
}

type PaymentStatusRequest struct {
	TxoIDs []string `json:"txo_ids"`
}

func (t WebAPI) paymentStatus(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var o PaymentStatusRequest
	err := json.NewDecoder(r.Body).Decode(&o)
	if err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body (expecting JSON): %v", err))
		return
	}
	status, err := t.api.GetPaymentStatus(o.TxoIDs)
	if err != nil {
		sendError(w, "GetPaymentStatus", err)
		return
	}
	sendResponse(w, status)
}

type CreateGiftCodeRequest struct {
	Value int64  `json:"value"`
	Fee   int64  `json:"fee"`
	Memo  string `json:"memo"`
}

func (t WebAPI) createGiftCode(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("accountID")
	if id == "" {
		sendBadRequest(w, "missing account ID in URL")
		return
	}
	var o CreateGiftCodeRequest
	err := json.NewDecoder(r.Body).Decode(&o)
	if err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body (expecting JSON): %v", err))
		return
	}
	gc, err := t.api.CreateGiftCode(id, o.Value, o.Fee, o.Memo)
	if err != nil {
		sendError(w, "CreateGiftCode", err)
		return
	}
	sendResponse(w, gc)
}

func (t WebAPI) listGiftCodes(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	codes, err := t.api.ListGiftCodes()
	if err != nil {
		sendError(w, "ListGiftCodes", err)
		return
	}
	if codes == nil {
		codes = []obscura.GiftCodePublic{} // encoded as '[]' in JSON
	}
	sendResponse(w, codes)
}

func (t WebAPI) getGiftCode(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	code := p.ByName("code")
	if code == "" {
		sendBadRequest(w, "missing gift code in URL")
		return
	}
	gc, err := t.api.GetGiftCode(code)
	if err != nil {
		sendError(w, "GetGiftCode", err)
		return
	}
	sendResponse(w, gc)
}

type ClaimGiftCodeRequest struct {
	Name string `json:"name"`
}

func (t WebAPI) claimGiftCode(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	code := p.ByName("code")
	if code == "" {
		sendBadRequest(w, "missing gift code in URL")
		return
	}
	var o ClaimGiftCodeRequest
	err := json.NewDecoder(r.Body).Decode(&o)
	if err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body (expecting JSON): %v", err))
		return
	}
	acc, err := t.api.ClaimGiftCode(code, o.Name)
	if err != nil {
		sendError(w, "ClaimGiftCode", err)
		return
	}
	sendResponse(w, acc)
}
