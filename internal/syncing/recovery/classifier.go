// Package recovery classifies raw sync failures into typed categories and
// executes the chosen recovery strategy: automatic retry with backoff, cache
// or partial fallback for read operations, or a terminal, user-actionable
// failure. Classification is the single place new failure categories are
// added.
package recovery

import (
	"context"
	"errors"
	"strings"

	"github.com/haunv/profilesync/internal/core/domain"
	"github.com/haunv/profilesync/internal/infra/fetch"
)

// Classify maps a raw error to a kind and recovery strategy. It is a pure
// function of the error's shape: status code, sentinel identity, and message
// pattern.
func Classify(err error, op domain.OperationType, targetKey string) *domain.ClassifiedError {
	if cerr, ok := err.(*domain.ClassifiedError); ok {
		return cerr
	}

	cerr := domain.NewClassifiedError(classifyKind(err), op, targetKey, err)
	cerr.Retryable, cerr.Strategy = strategyFor(cerr.Kind, op)
	cerr.Message, cerr.Actions = describe(cerr.Kind, cerr.Strategy)
	return cerr
}

func classifyKind(err error) domain.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorKindTimeout
	}

	var serr *fetch.StatusError
	if errors.As(err, &serr) {
		switch {
		case serr.Code == 401 || serr.Code == 403:
			return domain.ErrorKindAuth
		case serr.Code == 400 || serr.Code == 422:
			return domain.ErrorKindValidation
		default:
			return domain.ErrorKindAPI
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded"):
		return domain.ErrorKindTimeout
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "invalid session") || strings.Contains(msg, "signature"):
		return domain.ErrorKindAuth
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "malformed"):
		return domain.ErrorKindValidation
	case strings.Contains(msg, "decompress") || strings.Contains(msg, "cache"):
		return domain.ErrorKindCache
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "network"):
		return domain.ErrorKindNetwork
	default:
		return domain.ErrorKindAPI
	}
}

// strategyFor chooses the recovery path. Transient kinds retry automatically;
// auth and validation failures surface immediately. Local fallbacks are
// reserved for read-class operations, never writes.
func strategyFor(kind domain.ErrorKind, op domain.OperationType) (retryable bool, strategy domain.RecoveryStrategy) {
	switch kind {
	case domain.ErrorKindNetwork, domain.ErrorKindTimeout, domain.ErrorKindAPI:
		return true, domain.RecoveryRetryAutomatic
	case domain.ErrorKindAuth:
		return false, domain.RecoveryRequireReconnection
	case domain.ErrorKindValidation:
		return false, domain.RecoveryRequireUserAction
	case domain.ErrorKindCache:
		if op.IsWrite() {
			return false, domain.RecoveryNone
		}
		return false, domain.RecoveryFallbackPartial
	}
	return false, domain.RecoveryNone
}

func describe(kind domain.ErrorKind, strategy domain.RecoveryStrategy) (string, []string) {
	switch strategy {
	case domain.RecoveryRetryAutomatic:
		return "A temporary problem interrupted the sync. Retrying automatically.",
			[]string{"wait for the automatic retry", "check your connection if this persists"}
	case domain.RecoveryRetryManual:
		return "The sync could not be completed. Try again.",
			[]string{"retry the sync manually"}
	case domain.RecoveryRequireReconnection:
		return "Your wallet session is no longer valid.",
			[]string{"reconnect your wallet", "sign in again"}
	case domain.RecoveryRequireUserAction:
		return "The request was rejected by the ownership source.",
			[]string{"verify the wallet address", "contact support if the address is correct"}
	case domain.RecoveryFallbackCache:
		return "Live data is unavailable; showing the last known state.",
			[]string{"retry later for fresh data"}
	case domain.RecoveryFallbackPartial:
		return "Live data is unavailable; showing partial results.",
			[]string{"retry later for complete data"}
	default:
		return "The sync failed with an unrecoverable " + string(kind) + " error.",
			[]string{"contact support"}
	}
}
