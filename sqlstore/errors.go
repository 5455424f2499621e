package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/mevdschee/tqpump/session"
)

var (
	// ErrUnsupportedDriver is returned by Open for drivers without a dialect
	ErrUnsupportedDriver = errors.New("unsupported sql driver")

	// ErrInvalidTable is returned by Open for table names that are not plain identifiers
	ErrInvalidTable = errors.New("invalid table name")

	// ErrVariableMismatch is the cause of a rejected request whose variables
	// have different lengths
	ErrVariableMismatch = errors.New("bound variables differ in length")
)

// classify maps a driver error onto the session error taxonomy. Errors the
// database reported about a statement reject the request; everything else
// means the connection can no longer be trusted.
func classify(host string, err error) error {
	if err == nil {
		return nil
	}
	if session.IsRequestError(err) || session.IsTransportError(err) {
		return err
	}
	transport := &session.TransportError{Host: host, Err: err}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return transport
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return transport
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 08 is connection exception, 57 operator intervention
		switch pqErr.Code.Class() {
		case "08", "57":
			return transport
		}
		return &session.RequestError{Err: &session.QueryError{
			Code:    string(pqErr.Code),
			Message: pqErr.Message,
			Detail:  pqErr.Detail,
		}}
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return &session.RequestError{Err: &session.QueryError{
			Code:    strconv.Itoa(int(myErr.Number)),
			Message: myErr.Message,
		}}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrIoErr, sqlite3.ErrCantOpen, sqlite3.ErrNotADB, sqlite3.ErrCorrupt:
			return transport
		}
		return &session.RequestError{Err: &session.QueryError{
			Code:    fmt.Sprintf("SQLITE-%d", int(liteErr.Code)),
			Message: liteErr.Error(),
		}}
	}

	return transport
}
