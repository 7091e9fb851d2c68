package webapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	obscura "github.com/obscuranet/obscurawallet/pkg"
)

var httpCodeForError = map[string]int{
	string(obscura.BadRequest):                  400,
	string(obscura.NotAvailable):                503,
	string(obscura.NotFound):                    404,
	string(obscura.AlreadyExists):               500,
	string(obscura.Unauthorized):                401,
	string(obscura.UnknownError):                500,
	string(obscura.TxoForAnotherAccount):        404,
	string(obscura.NoSpendableFunds):            400,
	string(obscura.InsufficientFunds):           400,
	string(obscura.InsufficientFundsFragmented): 400,
	string(obscura.InsufficientFundsUnderCap):   400,
	string(obscura.MissingSpendabilityData):     400,
	string(obscura.InvariantViolation):          500,
}

func HttpStatusForError(code obscura.ErrorCode) int {
	status, found := httpCodeForError[string(code)]
	if !found {
		status = http.StatusInternalServerError
	}
	return status
}

func sendResponse(w http.ResponseWriter, payload interface{}) {
	// note: w.Header after this, so we can call sendError
	b, err := json.Marshal(payload)
	if err != nil {
		sendErrorResponse(w, http.StatusInternalServerError, "marshal", fmt.Sprintf("in json.Marshal: %s", err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store") // do not cache (Browsers cache GET forever by default)
	w.Write(b)
}

func sendBadRequest(w http.ResponseWriter, message string) {
	sendErrorResponse(w, http.StatusBadRequest, obscura.BadRequest, message)
}

func sendError(w http.ResponseWriter, where string, err error) {
	var info *obscura.ErrorInfo
	if errors.As(err, &info) {
		status := HttpStatusForError(info.Code)
		message := fmt.Sprintf("%s: %s", where, info.Message)
		sendErrorResponse(w, status, info.Code, message)
	} else {
		message := fmt.Sprintf("%s: %s", where, err.Error())
		sendErrorResponse(w, http.StatusInternalServerError, obscura.UnknownError, message)
	}
}

func sendErrorResponse(w http.ResponseWriter, statusCode int, code obscura.ErrorCode, message string) {
	log.Printf("[!] %s: %s\n", code, message)
	// would prefer to use json.Marshal, but this avoids the need
	// to handle encoding errors arising from json.Marshal itself!
	payload := fmt.Sprintf("{\"error\":{\"code\":%q,\"message\":%q}}", code, message)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store") // do not cache (Browsers cache GET forever by default)
	w.WriteHeader(statusCode)
	w.Write([]byte(payload))
}
