package domain

import "errors"

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrTransportClosed    = errors.New("transport closed")
	ErrBrokerDisabled     = errors.New("broker disabled")
	ErrInvalidRoom        = errors.New("invalid room name")
)
