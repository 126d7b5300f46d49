package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Conn is the subset of *ldap.Conn the manager and searcher rely on.
type Conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	IsClosing() bool
	Close()
}

// Dialer opens a raw, unbound connection.
type Dialer func(ctx context.Context) (Conn, error)

type ldapConn struct {
	*ldap.Conn
}

func (c ldapConn) Close() {
	c.Conn.Close()
}

// NewLDAPDialer dials url with a connect timeout. ldaps:// urls use the
// system trust store.
func NewLDAPDialer(url string, timeout time.Duration) Dialer {
	return func(ctx context.Context) (Conn, error) {
		dialer := &net.Dialer{Timeout: timeout}
		if deadline, ok := ctx.Deadline(); ok {
			dialer.Deadline = deadline
		}
		conn, err := ldap.DialURL(
			url,
			ldap.DialWithDialer(dialer),
			ldap.DialWithTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}),
		)
		if err != nil {
			return nil, err
		}
		conn.SetTimeout(timeout)
		return ldapConn{Conn: conn}, nil
	}
}

// isConnectionError reports failures that mean the connection itself is gone.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if ldap.IsErrorAnyOf(err, ldap.ErrorNetwork, ldap.LDAPResultServerDown, ldap.LDAPResultUnavailable, ldap.LDAPResultBusy) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
