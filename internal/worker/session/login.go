package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrWrongClientVersion is returned when the upstream server rejects the
// configured client version (error code LOGIN-0001); CorrectVersion then
// carries the version string the caller should persist and retry with.
type ErrWrongClientVersion struct {
	CorrectVersion string
}

func (e *ErrWrongClientVersion) Error() string {
	return fmt.Sprintf("session: wrong client version, server expects %q", e.CorrectVersion)
}

// LoginResult carries what the worker needs out of a successful login
// reply: the session token used for the auth follow-up, and the account
// id used to build the messaging-destination subscription.
type LoginResult struct {
	SessionToken string
	AccountID    int64
}

// decodeLoginReply parses a login invocation's forwarded
// `{"result":...,"code":200,"data":...}` JSON, handling both the
// `_error` shape (mapping LOGIN-0001 to ErrWrongClientVersion) and the
// success shape (`data.body.token`, `data.body.accountSummary.accountId`).
func decodeLoginReply(resultJSON string) (LoginResult, error) {
	var env struct {
		Result string          `json:"result"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(resultJSON), &env); err != nil {
		return LoginResult{}, fmt.Errorf("session: decoding login reply: %w", err)
	}

	if env.Result == "_error" {
		return LoginResult{}, decodeLoginError(env.Data)
	}

	var success struct {
		Body struct {
			Token          string `json:"token"`
			AccountSummary struct {
				AccountID float64 `json:"accountId"`
			} `json:"accountSummary"`
		} `json:"body"`
	}
	if err := json.Unmarshal(env.Data, &success); err != nil {
		return LoginResult{}, fmt.Errorf("session: decoding login success data: %w", err)
	}
	if success.Body.Token == "" {
		return LoginResult{}, errors.New("session: login reply missing session token")
	}
	return LoginResult{SessionToken: success.Body.Token, AccountID: int64(success.Body.AccountSummary.AccountID)}, nil
}

func decodeLoginError(data json.RawMessage) error {
	var errData struct {
		RootCause struct {
			ErrorCode             string   `json:"errorCode"`
			Message               string   `json:"message"`
			SubstitutionArguments []string `json:"substitutionArguments"`
		} `json:"rootCause"`
		FaultString string `json:"faultString"`
	}
	if err := json.Unmarshal(data, &errData); err != nil {
		return fmt.Errorf("session: login rejected (undecodable error payload): %w", err)
	}

	switch {
	case errData.RootCause.ErrorCode == "LOGIN-0001":
		version := ""
		if len(errData.RootCause.SubstitutionArguments) > 1 {
			version = errData.RootCause.SubstitutionArguments[1]
		}
		return &ErrWrongClientVersion{CorrectVersion: version}
	case errData.RootCause.Message != "":
		return fmt.Errorf("session: login rejected: %s", errData.RootCause.Message)
	case errData.FaultString != "":
		return fmt.Errorf("session: login rejected: %s", errData.FaultString)
	default:
		return errors.New("session: login rejected")
	}
}
