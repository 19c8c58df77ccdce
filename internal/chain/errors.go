package chain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	gethereum "github.com/ethereum/go-ethereum"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// IsTooManyResultsError reports whether err is an eth_getLogs "too many
// results" DataError, along with the raw error data for range parsing.
func IsTooManyResultsError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	var dataErr gethrpc.DataError
	if errors.As(err, &dataErr) {
		errData := fmt.Sprintf("%v", dataErr.ErrorData())
		return regexp.MustCompile(`Query returned more than \d+ results`).MatchString(errData), errData
	}

	return false, ""
}

// IsFutureEpochError reports whether err indicates the requested block
// has not been produced yet, which the adapter normalizes to an empty
// result rather than propagating as an error.
func IsFutureEpochError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, gethereum.NotFound):
		return true
	case strings.Contains(msg, "not found"):
		return true
	case strings.Contains(msg, "future epoch"):
		return true
	case strings.Contains(msg, "block not found"):
		return true
	}

	return false
}
