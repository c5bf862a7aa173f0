package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// ErrorClass is the transport failure taxonomy.
type ErrorClass string

const (
	ClassNone         ErrorClass = ""
	ClassRefused      ErrorClass = "refused"
	ClassReset        ErrorClass = "reset"
	ClassTimeout      ErrorClass = "timeout"
	ClassHostNotFound ErrorClass = "host_not_found"
	ClassUnauthorized ErrorClass = "unauthorized"
	ClassProxyAuth    ErrorClass = "proxy_auth"
	ClassOther        ErrorClass = "other"
)

var classMessages = map[ErrorClass]string{
	ClassRefused:      "Connection refused. Please check your proxy port and credentials.",
	ClassReset:        "Connection reset by peer. The proxy may be blocking your request.",
	ClassTimeout:      "Connection timed out. Please check your proxy settings.",
	ClassHostNotFound: "Proxy host not found. Please check your proxy configuration.",
	ClassUnauthorized: "Authentication failed. Please check your proxy credentials.",
	ClassProxyAuth:    "Proxy authentication required. Please provide valid credentials.",
}

// Classify maps a transport error to its class.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return ClassTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ClassRefused
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return ClassReset
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassHostNotFound
	}

	// CONNECT rejections surface only as status text in the error.
	msg := err.Error()
	switch {
	case hasStatus(msg, http.StatusUnauthorized):
		return ClassUnauthorized
	case hasStatus(msg, http.StatusProxyAuthRequired), strings.Contains(msg, "Proxy Authentication Required"):
		return ClassProxyAuth
	}
	return ClassOther
}

// hasStatus reports whether msg carries the status line text for code,
// such as "407 Proxy Authentication Required".
func hasStatus(msg string, code int) bool {
	return strings.Contains(msg, fmt.Sprintf("%d %s", code, http.StatusText(code)))
}

// ClassifyStatus maps an HTTP status to an auth class, or ClassOther.
func ClassifyStatus(code int) ErrorClass {
	switch code {
	case http.StatusUnauthorized:
		return ClassUnauthorized
	case http.StatusProxyAuthRequired:
		return ClassProxyAuth
	}
	return ClassOther
}

// Message renders the user-facing text for a class. Unclassified errors
// are rendered as prefix followed by the error text.
func (c ErrorClass) Message(err error, prefix string) string {
	if m, ok := classMessages[c]; ok {
		return m
	}
	if err == nil {
		return strings.TrimSuffix(prefix, ": ")
	}
	return fmt.Sprintf("%s%v", prefix, err)
}

// Describe classifies err and renders it with the fetch prefix.
func Describe(err error) (ErrorClass, string) {
	c := Classify(err)
	return c, c.Message(err, "Request failed: ")
}
