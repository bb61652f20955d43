package protocol

import (
	"fmt"

	"ringkv/pkg/dberrors"
)

// Status is the first line of every client frame.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusGet
	StatusGetSuccess
	StatusGetError
	StatusPut
	StatusPutSuccess
	StatusPutUpdate
	StatusPutError
	StatusDeleteSuccess
	StatusDeleteError
	StatusDisconnect
	StatusServerStopped
	StatusServerWriteLock
	StatusServerNotResponsible
	StatusSubscriptionUpdate
	StatusSubscribe
	StatusUnsubscribe
	StatusSubscribeSuccess
	StatusSubscribeError
)

var statusNames = [...]string{
	StatusUnknown:              "UNKNOWN",
	StatusGet:                  "GET",
	StatusGetSuccess:           "GET_SUCCESS",
	StatusGetError:             "GET_ERROR",
	StatusPut:                  "PUT",
	StatusPutSuccess:           "PUT_SUCCESS",
	StatusPutUpdate:            "PUT_UPDATE",
	StatusPutError:             "PUT_ERROR",
	StatusDeleteSuccess:        "DELETE_SUCCESS",
	StatusDeleteError:          "DELETE_ERROR",
	StatusDisconnect:           "DISCONNECT",
	StatusServerStopped:        "SERVER_STOPPED",
	StatusServerWriteLock:      "SERVER_WRITE_LOCK",
	StatusServerNotResponsible: "SERVER_NOT_RESPONSIBLE",
	StatusSubscriptionUpdate:   "SUBSCRIPTION_UPDATE",
	StatusSubscribe:            "SUBSCRIBE",
	StatusUnsubscribe:          "UNSUBSCRIBE",
	StatusSubscribeSuccess:     "SUBSCRIBE_SUCCESS",
	StatusSubscribeError:       "SUBSCRIBE_ERROR",
}

var statusByName = func() map[string]Status {
	m := make(map[string]Status, len(statusNames))
	for s, name := range statusNames {
		if Status(s) != StatusUnknown {
			m[name] = Status(s)
		}
	}
	return m
}()

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", s)
}

func ParseStatus(name string) (Status, error) {
	s, ok := statusByName[name]
	if !ok {
		return StatusUnknown, fmt.Errorf("%q: %w", name, dberrors.ErrUnknownStatus)
	}
	return s, nil
}

// ErrorReply is the failure status matching a request status.
func (s Status) ErrorReply() (Status, bool) {
	switch s {
	case StatusGet:
		return StatusGetError, true
	case StatusPut:
		return StatusPutError, true
	case StatusSubscribe, StatusUnsubscribe:
		return StatusSubscribeError, true
	default:
		return StatusUnknown, false
	}
}
